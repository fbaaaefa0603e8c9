package nlog

import "os"

// writeJournal formats a line the way journald expects on its stderr
// passthrough (a "<priority>" syslog prefix). The journal daemon itself is
// an external collaborator (spec §1); the agent only needs to hand it
// lines that carry a priority, which systemd's stderr capture understands
// natively without a socket connection.
func writeJournal(sev severity, line string) {
	var prio string
	switch sev {
	case sevErr:
		prio = "<3>"
	case sevWarn:
		prio = "<4>"
	default:
		prio = "<6>"
	}
	os.Stderr.WriteString(prio)
	os.Stderr.WriteString(line)
}
