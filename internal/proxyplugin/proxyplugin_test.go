package proxyplugin

import (
	"encoding/base64"
	"testing"

	"github.com/dbpedia/ontology-time-machine-go/internal/otmconfig"
)

// fakeMembership lets OnConnect/InterceptionDecision tests avoid a real
// archiveindex.Store.
type fakeMembership struct {
	hit bool
}

func (m fakeMembership) Contains(host, path string) (string, bool) {
	if m.hit {
		return path, true
	}
	return "", false
}

func basicHeader(t *testing.T, userinfo string) string {
	t.Helper()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(userinfo))
}

// TestResolveIgnorePolicyNeverConsultsHeader covers testable property 5:
// clientConfigViaProxyAuth=ignore always returns the startup Config.
func TestResolveIgnorePolicyNeverConsultsHeader(t *testing.T) {
	startup := otmconfig.Default()
	startup.ClientConfigViaProxyAuth = otmconfig.ProxyAuthIgnore
	r := NewResolver(startup)

	cfg, err := r.Resolve("conn-1", basicHeader(t, "--ontoVersion=latestArchived"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OntoVersion != otmconfig.VersionOriginal {
		t.Fatalf("got ontoVersion=%s, want startup default unchanged", cfg.OntoVersion)
	}
}

// TestResolveOptionalPolicyFallsBackOnMissingHeader covers the optional
// branch of scenario S5 when no Proxy-Authorization is presented.
func TestResolveOptionalPolicyFallsBackOnMissingHeader(t *testing.T) {
	startup := otmconfig.Default()
	startup.ClientConfigViaProxyAuth = otmconfig.ProxyAuthOptional
	r := NewResolver(startup)

	cfg, err := r.Resolve("conn-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OntoVersion != startup.OntoVersion {
		t.Fatalf("got %+v, want startup config", cfg)
	}
}

// TestResolveRequiredPolicyRejectsMissingHeader covers scenario S5's
// required branch: no usable Proxy-Authorization must be a hard error.
func TestResolveRequiredPolicyRejectsMissingHeader(t *testing.T) {
	startup := otmconfig.Default()
	startup.ClientConfigViaProxyAuth = otmconfig.ProxyAuthRequired
	r := NewResolver(startup)

	_, err := r.Resolve("conn-1", "")
	if err != ErrConfigRequired {
		t.Fatalf("got err=%v, want ErrConfigRequired", err)
	}
}

// TestResolveOverridesFromProxyAuthUsername covers scenario S5's
// success path: the Basic username is parsed as a CLI-grammar argv.
func TestResolveOverridesFromProxyAuthUsername(t *testing.T) {
	startup := otmconfig.Default()
	startup.ClientConfigViaProxyAuth = otmconfig.ProxyAuthRequired
	r := NewResolver(startup)

	header := basicHeader(t, "--ontoVersion=latestArchived --restrictedAccess=true:unused-password")
	cfg, err := r.Resolve("conn-1", header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OntoVersion != otmconfig.VersionLatestArchived {
		t.Fatalf("got ontoVersion=%s, want latestArchived", cfg.OntoVersion)
	}
	if !cfg.RestrictedAccess {
		t.Fatal("expected restrictedAccess=true from override")
	}
}

// TestResolveCachesPerConnection covers testable property 5's caching
// half: a second Resolve call for the same connID must not re-parse.
func TestResolveCachesPerConnection(t *testing.T) {
	startup := otmconfig.Default()
	startup.ClientConfigViaProxyAuth = otmconfig.ProxyAuthOptional
	r := NewResolver(startup)

	header := basicHeader(t, "--ontoVersion=latestArchived")
	first, err := r.Resolve("conn-1", header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A different (bogus) header on the same connID must be ignored
	// because the first result is already cached.
	second, err := r.Resolve("conn-1", "garbage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.OntoVersion != first.OntoVersion {
		t.Fatalf("got %s after caching, want %s", second.OntoVersion, first.OntoVersion)
	}
}

func TestResolveForgetEvictsCache(t *testing.T) {
	startup := otmconfig.Default()
	startup.ClientConfigViaProxyAuth = otmconfig.ProxyAuthOptional
	r := NewResolver(startup)

	header := basicHeader(t, "--ontoVersion=latestArchived")
	if _, err := r.Resolve("conn-1", header); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Forget("conn-1")

	cfg, err := r.Resolve("conn-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OntoVersion != startup.OntoVersion {
		t.Fatal("expected cache eviction to require re-resolving")
	}
}

// TestOnConnectBlockAlwaysRejects covers scenario S4.
func TestOnConnectBlockAlwaysRejects(t *testing.T) {
	cfg := otmconfig.Default()
	cfg.HTTPSInterception = otmconfig.InterceptBlock
	got := OnConnect(cfg, fakeMembership{hit: true}, "example.org:443")
	if got != DecisionReject {
		t.Fatalf("got %s, want reject", got)
	}
}

func TestOnConnectNoneAlwaysTunnels(t *testing.T) {
	cfg := otmconfig.Default()
	cfg.HTTPSInterception = otmconfig.InterceptNone
	got := OnConnect(cfg, fakeMembership{hit: true}, "example.org:443")
	if got != DecisionTunnel {
		t.Fatalf("got %s, want tunnel", got)
	}
}

func TestOnConnectAllAlwaysMITMs(t *testing.T) {
	cfg := otmconfig.Default()
	cfg.HTTPSInterception = otmconfig.InterceptAll
	got := OnConnect(cfg, fakeMembership{hit: false}, "example.org:443")
	if got != DecisionMITM {
		t.Fatalf("got %s, want mitm", got)
	}
}

// TestOnConnectArchivoFollowsMembership covers testable property 2 at
// the CONNECT boundary: archivo mode MITMs only archive members.
func TestOnConnectArchivoFollowsMembership(t *testing.T) {
	cfg := otmconfig.Default()
	cfg.HTTPSInterception = otmconfig.InterceptArchivo

	if got := OnConnect(cfg, fakeMembership{hit: true}, "archive.org:443"); got != DecisionMITM {
		t.Fatalf("got %s, want mitm for archive member", got)
	}
	if got := OnConnect(cfg, fakeMembership{hit: false}, "example.org:443"); got != DecisionTunnel {
		t.Fatalf("got %s, want tunnel for non-member", got)
	}
}

func TestInterceptionDecisionNeverOverridesNonArchivoMode(t *testing.T) {
	cfg := otmconfig.Default()
	cfg.HTTPSInterception = otmconfig.InterceptAll
	if !InterceptionDecision(cfg, fakeMembership{hit: false}, "example.org", "/onto") {
		t.Fatal("expected all mode to confirm true regardless of membership")
	}
}

func TestInterceptionDecisionConfirmsArchivoMembership(t *testing.T) {
	cfg := otmconfig.Default()
	cfg.HTTPSInterception = otmconfig.InterceptArchivo
	if !InterceptionDecision(cfg, fakeMembership{hit: true}, "example.org", "/onto") {
		t.Fatal("expected confirmation for a member path")
	}
	if InterceptionDecision(cfg, fakeMembership{hit: false}, "example.org", "/onto") {
		t.Fatal("expected no confirmation for a non-member path")
	}
}

func TestPreUpstreamDenyIs403(t *testing.T) {
	result := PreUpstreamDeny()
	if result.Status != 403 || !result.Synthesized {
		t.Fatalf("got %+v, want synthesized 403", result)
	}
}

func TestRequestIDIsUnique(t *testing.T) {
	a := RequestID()
	b := RequestID()
	if a == "" || b == "" || a == b {
		t.Fatalf("got a=%q b=%q, want distinct non-empty ids", a, b)
	}
}
