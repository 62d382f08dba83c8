package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/discushy/internal/assistant"
	"github.com/BioHazard786/discushy/internal/device"
	"github.com/BioHazard786/discushy/internal/hub"
	"github.com/BioHazard786/discushy/internal/logging"
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/mixer"
	"github.com/BioHazard786/discushy/internal/peer"
	"github.com/BioHazard786/discushy/internal/session"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/BioHazard786/discushy/internal/speaking"
	"github.com/BioHazard786/discushy/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	joinFlags connectionFlags

	flagName        string
	flagRole        string
	flagNoCamera    bool
	flagNoMic       bool
	flagCameraFile  string
	flagMicFile     string
	flagScreenFile  string
	flagAssistant   string
	flagJobPostID   string
	flagCandidateID string
)

var joinCmd = &cobra.Command{
	Use:     "join [room-code|url]",
	Aliases: []string{"j"},
	Short:   "Join a meeting, or start a new one",
	Long: `Join a meeting room. Without a room code a new room is created and you
join it as the host.

Camera, microphone and screen are read from media files: IVF (VP8/VP9) for
video and Ogg/Opus for audio. Without files the camera is blank and the
microphone is silent.

Examples:
  discushy join
  discushy join AB12CD --name Alice
  discushy join https://discushy.qzz.io/room/AB12CD --camera cam.ivf --mic voice.ogg`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, created := "", false
		if len(args) == 1 {
			var err error
			if roomID, err = parseRoomInput(args[0]); err != nil {
				return err
			}
		} else {
			roomID, created = hub.NewRoomCode(func(string) bool { return false }), true
		}
		return joinMeeting(cmd.Context(), roomID, created)
	},
}

func joinMeeting(ctx context.Context, roomID string, created bool) error {
	opts := joinFlags.options()
	opts.UserName = flagName
	opts.UserRole = flagRole
	opts.CameraFile = flagCameraFile
	opts.MicFile = flagMicFile
	opts.ScreenFile = flagScreenFile
	opts.AssistantURL = flagAssistant
	if created && opts.UserRole == "" {
		opts.UserRole = signaling.RoleHost
	}

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	self := signaling.UserInfo{
		UserID:   newUserID(),
		UserName: cfg.UserName,
		UserRole: cfg.UserRole,
	}
	if self.UserName == "" {
		self.UserName = "Guest " + self.UserID
	}
	logger := logging.Component("join").With("room", roomID, "user", self.UserID)

	fmt.Println(ui.RoomInfo{RoomID: roomID, RoomLink: cfg.GetRoomLink(roomID), Created: created}.View())

	stopSpinner := ui.RunSpinner(ui.SpinConnecting, "Connecting to server...")
	conn, err := NewConnectionContext(ctx, cfg, roomID)
	stopSpinner()
	if err != nil {
		return err
	}
	defer conn.Close()

	transport, err := peer.NewPionTransport(peer.PionOptions{
		Config:        peer.ICEConfig(cfg),
		Sender:        conn.Client,
		Signals:       conn.Handler.Signals,
		LoggerFactory: logging.NewPionFactory(slog.Default()),
		Logger:        slog.Default(),
	})
	if err != nil {
		return session.NewError("create transport", err)
	}

	term := ui.NewTerminal()
	coordinator := session.New(session.Options{
		RoomID:      roomID,
		Self:        self,
		Devices:     device.New(fileDevices(cfg, slog.Default()), slog.Default()),
		Constraints: media.Constraints{Audio: !flagNoMic, Video: !flagNoCamera},
		Mixer:       mixer.New(mixer.Options{Logger: slog.Default()}),
		Monitor: speaking.New(speaking.Options{
			Threshold: cfg.SpeakingThreshold,
			Hold:      cfg.SpeakingHold,
			Logger:    slog.Default(),
		}),
		Transport: transport,
		Signaler:  conn.Client,
		Events:    conn.Handler.Events,
		Errors:    conn.Handler.Errors,
		View:      term,
		Assistant: assistant.NewClient(cfg.AssistantURL, nil, slog.Default()),
		Logger:    slog.Default(),
	})

	stopSpinner = ui.RunSpinner(ui.SpinLoading, "Starting camera and microphone...")
	err = coordinator.Start(ctx)
	stopSpinner()
	if err != nil {
		return err
	}
	logger.Info("Joined meeting", "role", self.UserRole)

	meeting := ui.NewMeeting(ctx, coordinator, term, ui.MeetingOptions{
		RoomLink:    cfg.GetRoomLink(roomID),
		Assistant:   cfg.AssistantURL != "",
		JobPostID:   flagJobPostID,
		CandidateID: flagCandidateID,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coordinator.Run(gctx)
	})
	g.Go(func() error {
		defer coordinator.Leave()
		return meeting.Run()
	})

	err = g.Wait()
	switch {
	case errors.Is(err, session.ErrMeetingEnded):
		ui.PrintInfo("The host ended the meeting")
		return nil
	case err != nil:
		return err
	}
	ui.PrintSuccess("You left the meeting")
	return nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinFlags.register(joinCmd.Flags())
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagRole, "role", "", "Role in the room: host or member")
	joinCmd.Flags().BoolVar(&flagNoCamera, "no-camera", false, "Join without video")
	joinCmd.Flags().BoolVar(&flagNoMic, "no-mic", false, "Join without audio")
	joinCmd.Flags().StringVar(&flagCameraFile, "camera", "", "IVF file to use as the camera")
	joinCmd.Flags().StringVar(&flagMicFile, "mic", "", "Ogg/Opus file to use as the microphone")
	joinCmd.Flags().StringVar(&flagScreenFile, "screen", "", "IVF file to use for screen sharing")
	joinCmd.Flags().StringVar(&flagAssistant, "assistant", "", "Assistant backend URL")
	joinCmd.Flags().StringVar(&flagJobPostID, "job-post", "", "Job post id sent with assistant requests")
	joinCmd.Flags().StringVar(&flagCandidateID, "candidate", "", "Candidate id sent with assistant requests")
}
