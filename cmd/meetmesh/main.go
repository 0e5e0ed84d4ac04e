package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/adapters/capture"
	"github.com/lessonlive/meetmesh/internal/adapters/rtc"
	signalws "github.com/lessonlive/meetmesh/internal/adapters/signal"
	"github.com/lessonlive/meetmesh/internal/app/chat"
	"github.com/lessonlive/meetmesh/internal/app/media"
	"github.com/lessonlive/meetmesh/internal/app/session"
	"github.com/lessonlive/meetmesh/internal/config"
	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
)

func main() {
	meetingFlag := flag.String("meeting", "", "meeting id to join")
	hostFlag := flag.Bool("host", false, "join as host")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if *meetingFlag == "" {
		log.Fatal().Msg("-meeting is required")
	}
	meeting := domain.MeetingID(*meetingFlag)

	self, err := domain.NewParticipant(cfg.DisplayName, *hostFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid display name")
	}

	mediaCtl := media.NewController(capture.NewSyntheticDevices())
	sigClient := signalws.NewClient(signalws.Options{
		URL:        cfg.SignalURL,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})

	rtcCfg := rtc.NewConfiguration(cfg.ICEServers)
	factory := func(remote domain.ParticipantID) (core.PeerTransport, error) {
		return rtc.NewWebRTCTransport(rtcCfg, remote)
	}

	chatCh := chat.NewChannel(self)
	if cfg.ChatHistory != "" {
		history, err := chat.OpenHistory(cfg.ChatHistory)
		if err != nil {
			log.Warn().Err(err).Msg("chat history unavailable")
		} else {
			defer history.Close()
			chatCh.BindHistory(history, meeting)
		}
	}
	chatCh.OnAppend(func(msg domain.ChatMessage) {
		log.Info().Str("from", msg.SenderName).Str("text", msg.Text).Msg("chat")
	})

	ctl := session.NewController(meeting, self, sigClient, mediaCtl, chatCh, factory)

	if err := ctl.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	log.Info().Str("meeting", string(meeting)).Str("participant", string(self.ID)).Msg("joined meeting")

	<-ctx.Done()
	ctl.Leave()
	log.Info().Msg("left meeting")
}
