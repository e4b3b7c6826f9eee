package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	DefaultSubjectPrefix = "watchers"
	SubjectLoad          = "watchers.load"
	SubjectChangeEvent   = "watchers.changed"
)

// Token makes s safe to use as a single subject token.
func Token(s string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	if t := r.Replace(strings.TrimSpace(s)); t != "" {
		return t
	}
	return "_"
}

// BuildServiceSubject builds the queue subject shared by every peer of a service.
func BuildServiceSubject(prefix, service string) string {
	return fmt.Sprintf("%s.%s", prefix, Token(service))
}

// BuildPeerSubject builds the subject a single peer answers on.
func BuildPeerSubject(prefix, service string, peerID int) string {
	return fmt.Sprintf("%s.%s.%d", prefix, Token(service), peerID)
}

// BuildChangeSubject builds the change event subject of a service.
func BuildChangeSubject(service string) string {
	return fmt.Sprintf("%s.%s", SubjectChangeEvent, Token(service))
}
