// Command tester joins a live-queue server as a participant and prints what
// the realtime channel delivers.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"live-queue/client"
	"live-queue/domain/event"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

const (
	exitOK = iota
	exitRuntime
	exitConfig
)

type Config struct {
	ServerURL    string        `envconfig:"TESTER_SERVER_URL" default:"http://localhost:8080"`
	Name         string        `envconfig:"TESTER_NAME" default:"Tester"`
	Email        string        `envconfig:"TESTER_EMAIL" required:"true"`
	Password     string        `envconfig:"TESTER_PASSWORD" required:"true"`
	PingInterval time.Duration `envconfig:"TESTER_PING_INTERVAL" default:"20s"`
	TypingEvery  time.Duration `envconfig:"TESTER_TYPING_EVERY" default:"0s"`
	Colours      bool          `envconfig:"TESTER_COLOURS" default:"true"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"INFO"`
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	color.Enable = cfg.Colours

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg.ServerURL)
	account, err := c.Login(ctx, cfg.Email, cfg.Password)
	var status *client.StatusError
	if stderrors.As(err, &status) && status.Status == http.StatusUnauthorized {
		log.Info("Unknown account, registering", "email", cfg.Email)
		account, err = c.Register(ctx, cfg.Name, cfg.Email, cfg.Password)
	}
	if err != nil {
		log.Error("Authentication failed", "error", err)
		return exitRuntime
	}

	session, err := c.Connect(ctx, account.Token)
	if err != nil {
		log.Error("Realtime connection refused", "error", err)
		return exitRuntime
	}
	defer session.Close()
	log.Info("Connected", "user", account.User.Name, "server", cfg.ServerURL)

	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()
	var typing <-chan time.Time
	if cfg.TypingEvery > 0 {
		t := time.NewTicker(cfg.TypingEvery)
		defer t.Stop()
		typing = t.C
	}
	isTyping := false

	for {
		select {
		case <-ctx.Done():
			log.Info("Leaving")
			return exitOK
		case <-ping.C:
			if err := session.Ping(); err != nil {
				log.Warn("Heartbeat failed", "error", err)
			}
		case <-typing:
			isTyping = !isTyping
			if err := session.Typing(isTyping); err != nil {
				log.Warn("Typing signal failed", "error", err)
			}
		case evt, ok := <-session.Events():
			if !ok {
				if err := session.Err(); err != nil {
					log.Error("Connection lost", "error", err)
					return exitRuntime
				}
				log.Info("Server closed the connection")
				return exitOK
			}
			render(evt)
		}
	}
}

func render(evt client.Event) {
	at := evt.Timestamp.Local().Format("15:04:05")
	switch evt.Type {
	case event.RosterSnapshot:
		roster, err := evt.Roster()
		if err != nil {
			color.Red.Printf("%s unreadable roster: %v\n", at, err)
			return
		}
		fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf("  ====== %d online ======", roster.Count)))
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"#", "ID", "Name"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for i, u := range roster.Users {
			table.Append([]string{strconv.Itoa(i + 1), u.ID, u.Name})
		}
		table.Render()
	case event.UserJoined:
		color.Green.Printf("%s + %s\n", at, evt.Message)
	case event.UserLeft:
		color.Yellow.Printf("%s - %s\n", at, evt.Message)
	case event.TypingSignal:
		color.Gray.Printf("%s %s typing %s\n", at, evt.User, string(evt.Data))
	case event.HeartbeatAck:
		color.Gray.Printf("%s heartbeat\n", at)
	default:
		color.Cyan.Printf("%s [%s] %s\n", at, evt.Type, evt.Message)
	}
}
