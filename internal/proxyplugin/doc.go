package proxyplugin

// Open question decision (spec.md §9, SPEC_FULL.md §E.1):
// httpsInterception=archivo intercepts at CONNECT time.
//
// The archivo mode's membership check runs against the CONNECT
// authority alone, using "/" as the path (OnConnect): first host:port,
// then the bare host. Only archive entries keyed at the host root ("/")
// match this way; the §4.1 fallback chain walks from a path up to its
// ancestors, so entries under a deeper namespace path do not make a
// CONNECT intercepted. The check lets the decision happen before any
// bytes are tunneled — which
// matters because a blind tunnel, once begun, cannot be upgraded to MITM
// retroactively.
//
// InterceptionDecision, the second hook fired once a request's real
// path is known (after MITM has already begun), is still implemented,
// but it never overrides what OnConnect already decided. It exists to
// confirm the match against the now-known path and to log a
// authority-vs-path mismatch if OnConnect's authority-only check proves
// too permissive for a given deployment — diagnostic, not corrective.
