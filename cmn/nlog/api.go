// Package nlog is the agent's logger: unbuffered, severity-tagged, and
// hardwired away from stdout so that log output never interleaves with the
// framed control protocol (see spec §7: log output must never interleave
// with the framed protocol on stdout).
/*
 * Adapted from the teacher's cmn/nlog package (file-buffered rotating
 * logger) down to the part of its API this agent needs: severity writers
 * plus depth-aware callers for router/channel diagnostics.
 */
package nlog

func InfoDepth(depth int, args ...any)    { logln(sevInfo, depth, args...) }
func Infoln(args ...any)                  { logln(sevInfo, 0, args...) }
func Infof(format string, args ...any)    { logf(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, 0, args...) }
func Warningf(format string, args ...any) { logf(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { logln(sevErr, depth, args...) }
func Errorln(args ...any)                 { logln(sevErr, 0, args...) }
func Errorf(format string, args ...any)   { logf(sevErr, 0, format, args...) }

// SetTitle tags every subsequent line, e.g. with the agent's session id.
func SetTitle(s string) { title = s }

// UseJournal switches the sink from stderr to the systemd journal, the way
// the real bridge does when started under sshd (SSH_CONNECTION present).
// The journal itself is an external collaborator (spec §1); this only
// flips which io.Writer lines are formatted onto.
func UseJournal(on bool) { useJournal = on }
