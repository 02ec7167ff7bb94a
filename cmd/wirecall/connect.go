package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/log"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/signaling"
)

func newConnectCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the relay and manage calls interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = cfg.Client.Token
			}
			if token == "" {
				return fmt.Errorf("no token; run `wirecall login` and set client.token")
			}
			return runConnect(cmd.Context(), token)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "signaling token (defaults to client.token from config)")
	return cmd
}

// tokenUserID extracts the subject from the token without verifying it;
// the relay is the verifying party.
func tokenUserID(token string) (string, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("token carries no user id")
	}
	return claims.UserID, nil
}

func runConnect(ctx context.Context, token string) error {
	logger := log.New(cfg.LogLevel)

	userID, err := tokenUserID(token)
	if err != nil {
		return err
	}

	transport, err := signaling.Dial(ctx, signaling.ClientOptions{
		URL:              cfg.Client.RelayURL,
		Token:            token,
		DialTimeout:      cfg.Client.DialTimeout,
		MaxReconnectWait: 30 * time.Second,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	devices, err := media.NewSource()
	if err != nil {
		return fmt.Errorf("init media: %w", err)
	}

	engine, err := call.New(call.Options{
		UserID:        userID,
		Transport:     transport,
		Devices:       devices,
		Observer:      &printObserver{},
		Logger:        logger,
		STUNServers:   cfg.Client.STUNServers,
		AcceptTimeout: cfg.Client.AcceptTimeout,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineErr := make(chan error, 1)
	go func() { engineErr <- engine.Run(ctx) }()

	fmt.Printf("Connected to %s as %s\n", cfg.Client.RelayURL, userID)
	fmt.Println("Commands: call <user> [video] | group <conversation> | accept | reject | hangup | video | mute | quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-engineErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, engine, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, engine *call.Engine, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "call":
		if len(fields) < 2 {
			fmt.Println("usage: call <user> [video]")
			return false
		}
		withVideo := len(fields) > 2 && fields[2] == "video"
		_, err = engine.StartCall(ctx, fields[1], "", withVideo)
	case "group":
		if len(fields) < 2 {
			fmt.Println("usage: group <conversation>")
			return false
		}
		_, err = engine.StartGroupCall(ctx, fields[1])
	case "accept":
		_, err = engine.AcceptCall(ctx)
	case "reject":
		err = engine.RejectCall(ctx)
	case "hangup":
		err = engine.HangupCall(ctx, proto.HangupNormal)
	case "video":
		var on bool
		if on, err = engine.ToggleVideo(ctx); err == nil {
			fmt.Printf("video: %v\n", on)
		}
	case "mute":
		var on bool
		if on, err = engine.ToggleMic(ctx); err == nil {
			fmt.Printf("mic: %v\n", on)
		}
	case "quit", "exit":
		_ = engine.HangupCall(ctx, proto.HangupNormal)
		return true
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
	return false
}

// printObserver prints engine notifications to the terminal.
type printObserver struct{}

func (printObserver) SessionStatusChanged(s call.Session) {
	switch s.Status {
	case call.StatusRinging:
		if s.ID != "" {
			fmt.Printf("incoming call from %s (session %s); accept or reject\n", s.CallerUserID, s.ID)
		} else {
			fmt.Printf("calling %s...\n", s.CalleeUserID)
		}
	default:
		fmt.Printf("call %s: %s\n", s.ID, s.Status)
	}
}

func (printObserver) RemoteTrackAdded(kind call.TrackKind) {
	fmt.Printf("remote %s track attached\n", kind)
}

func (printObserver) GroupJoinInfo(info proto.CallJoinInfo) {
	fmt.Printf("group call ready: room %s at %s\ntoken: %s\n", info.RoomName, info.URL, info.Token)
}
