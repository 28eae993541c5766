package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/meeting-sync/internal/config"
	"github.com/DoyleJ11/meeting-sync/internal/engine"
	"github.com/DoyleJ11/meeting-sync/internal/logging"
	"github.com/DoyleJ11/meeting-sync/internal/meeting"
	"github.com/DoyleJ11/meeting-sync/internal/session"
	"github.com/DoyleJ11/meeting-sync/internal/transport"
	"github.com/DoyleJ11/meeting-sync/internal/transport/matrix"
	"github.com/DoyleJ11/meeting-sync/internal/transport/relay"
	"github.com/DoyleJ11/meeting-sync/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "meeting:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	flags := pflag.NewFlagSet("meeting", pflag.ExitOnError)
	flags.StringVarP(&cfg.Transport, "transport", "t", cfg.Transport, "matrix, relay or ws")
	flags.StringVarP(&cfg.DisplayName, "name", "n", cfg.DisplayName, "display name")
	flags.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "long-poll timeout")
	flags.StringVar(&cfg.MatrixHomeserver, "homeserver", cfg.MatrixHomeserver, "matrix homeserver URL")
	flags.StringVar(&cfg.MatrixUser, "matrix-user", cfg.MatrixUser, "matrix user name")
	flags.StringVar(&cfg.MatrixPassword, "matrix-password", cfg.MatrixPassword, "matrix password")
	flags.StringVar(&cfg.MatrixRoom, "matrix-room", cfg.MatrixRoom, "matrix room id or alias")
	flags.BoolVar(&cfg.MatrixRegister, "register", cfg.MatrixRegister, "register the matrix user instead of logging in")
	flags.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "relay server URL")
	flags.StringVarP(&cfg.RelayRoom, "room", "r", cfg.RelayRoom, "relay room code; empty creates one")
	flags.StringVarP(&cfg.RelayUser, "user", "u", cfg.RelayUser, "relay user id")
	flags.StringVar(&cfg.Level, "log-level", cfg.Level, "debug, info, warn or error")
	flags.BoolVar(&cfg.Dev, "log-dev", cfg.Dev, "human-readable logs")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Level, cfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := os.Stdout
	tr, err := connect(ctx, cfg, log, out)
	if err != nil {
		return err
	}
	if c, ok := tr.(io.Closer); ok {
		defer c.Close()
	}

	name := cfg.DisplayName
	if name == "" {
		name = tr.UserID()
	}
	coord := meeting.New(tr.UserID(), name, tr,
		meeting.WithLogger(log),
		meeting.WithHooks(meeting.Hooks{
			PhaseChanged: func(from, to engine.Phase) { fmt.Fprintf(out, "-- %s -> %s\n", from, to) },
			Prompt:       func(text string) { fmt.Fprintf(out, "-- %s (/ready)\n", text) },
		}),
	)
	sess := session.New(tr, coord, session.WithLogger(log), session.WithPollTimeout(cfg.PollTimeout))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(ctx) })
	g.Go(func() error {
		defer sess.Stop()
		return repl(ctx, os.Stdin, out, sess)
	})
	return g.Wait()
}

func connect(ctx context.Context, cfg config.Client, log *zap.Logger, out io.Writer) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportMatrix:
		client, err := matrix.NewClient(matrix.ClientConfig{HomeserverURL: cfg.MatrixHomeserver, Logger: log})
		if err != nil {
			return nil, err
		}
		auth := client.Login
		if cfg.MatrixRegister {
			auth = client.Register
		}
		s, err := auth(ctx, cfg.MatrixUser, cfg.MatrixPassword)
		if err != nil {
			return nil, err
		}
		roomID, err := s.JoinRoom(ctx, cfg.MatrixRoom)
		if err != nil {
			return nil, err
		}
		log.Info("joined matrix room", zap.String("room", roomID), zap.String("user", s.UserID()))
		return s.Room(roomID), nil

	case config.TransportRelay, config.TransportWS:
		code := cfg.RelayRoom
		if code == "" {
			var err error
			if code, err = relay.CreateRoom(ctx, cfg.RelayURL, nil); err != nil {
				return nil, err
			}
			log.Info("created relay room", zap.String("room", code))
			fmt.Fprintf(out, "created room %s\n", code)
		}
		if cfg.Transport == config.TransportWS {
			return ws.NewClient(cfg.RelayURL, code, cfg.RelayUser, ws.WithLogger(log))
		}
		return relay.NewClient(cfg.RelayURL, code, cfg.RelayUser, relay.WithLogger(log))
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// repl reads commands until EOF, /quit or cancellation.
func repl(ctx context.Context, in io.Reader, out io.Writer, sess *session.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, "type /help for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			act, quit, err := parse(line, out)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if act == nil {
				continue
			}
			err = sess.Do(ctx, func(ctx context.Context, c *meeting.Coordinator) error { return act(ctx, c) })
			if errors.Is(err, session.ErrStopped) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(out, err)
			}
			if quit {
				return nil
			}
		}
	}
}
