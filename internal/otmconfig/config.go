// Package otmconfig defines the proxy's effective configuration and the
// parser used both for the process's own command line and for the
// whitespace-delimited argument vector carried in a Proxy-Authorization
// header (spec.md §4.2, §6).
package otmconfig

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

// OntoFormat is the target RDF serialization a request should be
// answered in.
type OntoFormat string

const (
	FormatTurtle   OntoFormat = "turtle"
	FormatNTriples OntoFormat = "ntriples"
	FormatRDFXML   OntoFormat = "rdfxml"
	FormatHTMLDocu OntoFormat = "htmldocu"
)

// Precedence governs when the Accept header is rewritten.
type Precedence string

const (
	PrecedenceDefault         Precedence = "default"
	PrecedenceEnforcedPriority Precedence = "enforcedPriority"
	PrecedenceAlways          Precedence = "always"
)

// OntoVersion selects the version-policy state machine (spec.md §4.4).
type OntoVersion string

const (
	VersionOriginal                 OntoVersion = "original"
	VersionOriginalFailoverLiveLatest OntoVersion = "originalFailoverLiveLatest"
	VersionLatestArchived            OntoVersion = "latestArchived"
	VersionTimestampArchived         OntoVersion = "timestampArchived"
)

// HTTPSInterception governs CONNECT handling (spec.md §3, §4.6).
type HTTPSInterception string

const (
	InterceptNone    HTTPSInterception = "none"
	InterceptAll     HTTPSInterception = "all"
	InterceptBlock   HTTPSInterception = "block"
	InterceptArchivo HTTPSInterception = "archivo"
)

// ClientConfigViaProxyAuth governs whether a per-connection override can
// come from the Proxy-Authorization header.
type ClientConfigViaProxyAuth string

const (
	ProxyAuthIgnore   ClientConfigViaProxyAuth = "ignore"
	ProxyAuthOptional ClientConfigViaProxyAuth = "optional"
	ProxyAuthRequired ClientConfigViaProxyAuth = "required"
)

// OntoFormatConfig is the nested format policy (spec.md §3). This is the
// "most recent shape" called for by spec.md §9 — the tuple-based legacy
// variants found in original_source/ are not modeled.
type OntoFormatConfig struct {
	Format              OntoFormat
	Precedence          Precedence
	PatchAcceptUpstream bool
}

// Config is the proxy's immutable, per-request effective configuration.
type Config struct {
	OntoFormat OntoFormatConfig

	OntoVersion OntoVersion
	Timestamp   string

	RestrictedAccess bool

	HTTPSInterception HTTPSInterception

	ClientConfigViaProxyAuth ClientConfigViaProxyAuth

	DisableRemovingRedirects bool

	Host string
	Port int

	// ArchiveAPIBase and the index source/local paths are not part of
	// the distilled spec's Config but are promoted from hardcoded
	// constants in original_source/ (see SPEC_FULL.md §D.2).
	ArchiveAPIBase      string
	ArchiveIndexPath    string
	ArchiveIndexSource  string
	ArchiveHashPath     string

	LogLevel string
}

// Default returns the zero-value-safe baseline Config, overridden by
// whatever flags are actually set.
func Default() Config {
	return Config{
		OntoFormat: OntoFormatConfig{
			Format:     FormatRDFXML,
			Precedence: PrecedenceDefault,
		},
		OntoVersion:              VersionOriginal,
		HTTPSInterception:        InterceptNone,
		ClientConfigViaProxyAuth: ProxyAuthIgnore,
		Host:                     "0.0.0.0",
		Port:                     9400,
		ArchiveAPIBase:           "https://archivo.dbpedia.org/download",
		ArchiveIndexPath:         "archive_index.nt.list",
		ArchiveIndexSource:       "https://archivo.dbpedia.org/listOntologies?format=csv",
		ArchiveHashPath:          "archive_index.sha256",
		LogLevel:                 "info",
	}
}

var (
	// ErrTimestampRequired is returned by Validate when ontoVersion is
	// timestampArchived but no timestamp was supplied (spec.md §9,
	// "Open questions").
	ErrTimestampRequired = errors.New("otmconfig: timestamp is required when ontoVersion=timestampArchived")
	// ErrUnknownOntoVersion is returned for values outside the closed
	// enum, including the unimplemented dependencyManifest mode
	// (spec.md §9).
	ErrUnknownOntoVersion = errors.New("otmconfig: unknown ontoVersion")
)

// Validate enforces the invariants spec.md leaves as "configuration
// errors surfaced at startup" rather than per-request failures.
func (c Config) Validate() error {
	switch c.OntoVersion {
	case VersionOriginal, VersionOriginalFailoverLiveLatest, VersionLatestArchived:
	case VersionTimestampArchived:
		if c.Timestamp == "" {
			return ErrTimestampRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOntoVersion, c.OntoVersion)
	}
	switch c.OntoFormat.Format {
	case FormatTurtle, FormatNTriples, FormatRDFXML, FormatHTMLDocu:
	default:
		return fmt.Errorf("otmconfig: unknown ontoFormat %q", c.OntoFormat.Format)
	}
	switch c.OntoFormat.Precedence {
	case PrecedenceDefault, PrecedenceEnforcedPriority, PrecedenceAlways:
	default:
		return fmt.Errorf("otmconfig: unknown ontoPrecedence %q", c.OntoFormat.Precedence)
	}
	switch c.HTTPSInterception {
	case InterceptNone, InterceptAll, InterceptBlock, InterceptArchivo:
	default:
		return fmt.Errorf("otmconfig: unknown httpsInterception %q", c.HTTPSInterception)
	}
	switch c.ClientConfigViaProxyAuth {
	case ProxyAuthIgnore, ProxyAuthOptional, ProxyAuthRequired:
	default:
		return fmt.Errorf("otmconfig: unknown clientConfigViaProxyAuth %q", c.ClientConfigViaProxyAuth)
	}
	return nil
}

// Flags wraps a pflag.FlagSet so callers can pull typed values out of it
// without repeating Lookup/Value.String() boilerplate. Modelled directly
// on caddy's cmd.Flags helper type.
type Flags struct {
	*pflag.FlagSet
}

func (f Flags) String(name string) string {
	fl := f.FlagSet.Lookup(name)
	if fl == nil {
		return ""
	}
	return fl.Value.String()
}

func (f Flags) Bool(name string) bool {
	v, _ := f.FlagSet.GetBool(name)
	return v
}

func (f Flags) Int(name string) int {
	v, _ := f.FlagSet.GetInt(name)
	return v
}

// NewFlagSet builds the pflag.FlagSet shared by the process CLI and by
// the Proxy-Authorization argv parser (spec.md §6): both consume the
// exact same option grammar.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	d := Default()

	fs.String("ontoFormat", string(d.OntoFormat.Format), "turtle|ntriples|rdfxml|htmldocu")
	fs.String("ontoPrecedence", string(d.OntoFormat.Precedence), "default|enforcedPriority|always")
	fs.Bool("patchAcceptUpstream", d.OntoFormat.PatchAcceptUpstream, "also rewrite Accept upstream in original version mode")
	fs.String("ontoVersion", string(d.OntoVersion), "original|originalFailoverLiveLatest|latestArchived|timestampArchived")
	fs.String("timestamp", d.Timestamp, "archive timestamp, required iff ontoVersion=timestampArchived")
	fs.Bool("restrictedAccess", d.RestrictedAccess, "refuse IRIs absent from the archive index")
	fs.String("httpsInterception", string(d.HTTPSInterception), "none|all|block|archivo")
	fs.String("clientConfigViaProxyAuth", string(d.ClientConfigViaProxyAuth), "ignore|optional|required")
	fs.Bool("disableRemovingRedirects", d.DisableRemovingRedirects, "keep redirect responses verbatim")
	fs.String("host", d.Host, "bind host")
	fs.Int("port", d.Port, "bind port")
	fs.String("archiveApiBase", d.ArchiveAPIBase, "archive API base URL")
	fs.String("archiveIndexPath", d.ArchiveIndexPath, "local archive IRI list path")
	fs.String("archiveIndexSourceURL", d.ArchiveIndexSource, "archive index CSV source URL")
	fs.String("archiveHashPath", d.ArchiveHashPath, "persisted SHA-256 of the last processed CSV")
	fs.String("logLevel", d.LogLevel, "trace|debug|info|warn|error")

	return fs
}

// FromFlags builds a Config by reading every flag above out of fs. Callers
// are expected to have already called fs.Parse.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	f := Flags{fs}
	c := Config{
		OntoFormat: OntoFormatConfig{
			Format:              OntoFormat(f.String("ontoFormat")),
			Precedence:          Precedence(f.String("ontoPrecedence")),
			PatchAcceptUpstream: f.Bool("patchAcceptUpstream"),
		},
		OntoVersion:              OntoVersion(f.String("ontoVersion")),
		Timestamp:                f.String("timestamp"),
		RestrictedAccess:         f.Bool("restrictedAccess"),
		HTTPSInterception:        HTTPSInterception(f.String("httpsInterception")),
		ClientConfigViaProxyAuth: ClientConfigViaProxyAuth(f.String("clientConfigViaProxyAuth")),
		DisableRemovingRedirects: f.Bool("disableRemovingRedirects"),
		Host:                     f.String("host"),
		Port:                     f.Int("port"),
		ArchiveAPIBase:           f.String("archiveApiBase"),
		ArchiveIndexPath:         f.String("archiveIndexPath"),
		ArchiveIndexSource:       f.String("archiveIndexSourceURL"),
		ArchiveHashPath:          f.String("archiveHashPath"),
		LogLevel:                 f.String("logLevel"),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ParseArgv parses a whitespace-delimited argument vector — the same
// grammar as the process CLI — into a Config. The Proxy-Authorization
// override path (internal/proxyplugin) uses it; the startup entrypoint
// (cmd/otm-proxy) builds the same NewFlagSet, adds its own flags, and
// calls FromFlags directly, per spec.md §4.2 and §6.
func ParseArgv(args []string) (Config, error) {
	fs := NewFlagSet("proxy-auth")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return FromFlags(fs)
}
