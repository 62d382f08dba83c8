package peer

import (
	"github.com/BioHazard786/discushy/internal/config"
	"github.com/pion/webrtc/v4"
)

// ICEConfig builds the peer connection configuration from cfg, restricting
// to TURN relays when the network calls for it.
func ICEConfig(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.UseRelay() {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}
