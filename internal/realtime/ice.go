package realtime

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"

	"github.com/aura-classroom/backend/pkg/response"
)

// DefaultSTUN is handed to clients when no ICE servers are configured.
const DefaultSTUN = "stun:stun.l.google.com:19302"

// ICEServers builds the client ICE configuration. TURN URLs get the shared
// credential; STUN URLs never carry one.
func ICEServers(urls []string, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		s := webrtc.ICEServer{URLs: []string{u}}
		if isTURN(u) && username != "" {
			s.Username = username
			s.Credential = credential
			s.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, webrtc.ICEServer{URLs: []string{DefaultSTUN}})
	}
	return out
}

func isTURN(u string) bool {
	return strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:")
}

// ICEHandler serves GET /ice-servers.
func ICEHandler(servers []webrtc.ICEServer) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.OK(c, gin.H{"iceServers": servers})
	}
}
