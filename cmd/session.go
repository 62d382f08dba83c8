package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"strings"

	"github.com/BioHazard786/discushy/internal/config"
	"github.com/BioHazard786/discushy/internal/dns"
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/session"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/spf13/pflag"
)

// connectionFlags are shared by every command that talks to a hub.
type connectionFlags struct {
	domain    string
	serverURL string
	stun      string
	turn      string
	turnUser  string
	turnPass  string
	relay     bool
	codec     string
}

func (f *connectionFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.domain, "domain", "d", "", "Custom domain")
	fs.StringVar(&f.serverURL, "server", "", "Signaling server URL, overrides the domain")
	fs.StringVarP(&f.stun, "stun", "s", "", "Custom STUN server")
	fs.StringVarP(&f.turn, "turn", "t", "", "Custom TURN server")
	fs.StringVar(&f.turnUser, "turn-user", "", "TURN username")
	fs.StringVar(&f.turnPass, "turn-pass", "", "TURN password")
	fs.BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")
	fs.StringVar(&f.codec, "codec", "", "Signaling codec: json or msgpack")
}

func (f *connectionFlags) options() config.Options {
	return config.Options{
		ConfigFile: flagConfigFile,
		Domain:     f.domain,
		ServerURL:  f.serverURL,
		STUNServer: f.stun,
		TURNServer: f.turn,
		TURNUser:   f.turnUser,
		TURNPass:   f.turnPass,
		ForceRelay: f.relay,
		Codec:      f.codec,
	}
}

// ConnectionContext holds the signaling connection for one meeting.
type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
}

// NewConnectionContext dials the hub for roomID and starts routing its
// messages.
func NewConnectionContext(ctx context.Context, cfg *config.Config, roomID string) (*ConnectionContext, error) {
	client := signaling.NewClient(signaling.ClientOptions{
		ServerURL: cfg.WebSocketURL,
		RoomID:    roomID,
		Codec:     signaling.CodecByName(cfg.Codec),
		Resolver:  &dns.Resolver{},
		Logger:    slog.Default(),
	})
	if err := client.Connect(ctx); err != nil {
		return nil, session.NewError("connect to server", fmt.Errorf("%w: %w", session.ErrSignalingDisconnected, err))
	}

	handler := signaling.NewHandler(client.Incoming(), slog.Default())
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
	}, nil
}

// Close closes the signaling connection.
func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

// LoadConfig loads the configuration and checks relay settings.
func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, session.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// fileDevices backs capture with the media files named in cfg.
func fileDevices(cfg *config.Config, logger *slog.Logger) *media.FileDevices {
	var cameras, mics []media.FileSource
	if cfg.CameraFile != "" {
		cameras = append(cameras, media.FileSource{Path: cfg.CameraFile})
	}
	if cfg.MicFile != "" {
		mics = append(mics, media.FileSource{Path: cfg.MicFile})
	}
	return media.NewFileDevices(media.FileDevicesConfig{
		Cameras:     cameras,
		Microphones: mics,
		Screen:      cfg.ScreenFile,
		Logger:      logger,
	})
}

// newUserID picks a five or six digit participant id.
func newUserID() string {
	return strconv.Itoa(10000 + rand.Intn(900000))
}

// parseRoomInput accepts a bare room code or a room link.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room code cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, ".") {
		return extractRoomIDFromURL(input)
	}

	return strings.ToUpper(input), nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", session.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "room" && i+1 < len(parts) && parts[i+1] != "" {
			return strings.ToUpper(parts[i+1]), nil
		}
	}

	return "", fmt.Errorf("could not extract room code from URL: %s", urlStr)
}
