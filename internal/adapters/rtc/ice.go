// Package rtc turns configured ICE servers into what browsers expect.
// Media never passes through the server; clients negotiate peer to peer.
package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Chorus/internal/config"
)

// ICEServers converts the configured servers. Credentials are only set for
// servers that carry a username.
func ICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	return out
}
