package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"live-queue/client"
	"live-queue/domain/event"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
)

type BaseRealtimeSuite struct {
	suite.Suite
	Config Config
	Client *client.Client

	sessions []*client.Session
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRealtimeSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerURL == "" {
		s.T().Skip("E2E_SERVER_URL not set")
	}
	s.Client = client.New(s.Config.ServerURL)
}

// Step prints a colorized header, then runs fn with a bounded context.
func (s *BaseRealtimeSuite) Step(name string, fn func(ctx context.Context)) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fn(ctx)
}

// Participant registers a throwaway account so runs never collide.
func (s *BaseRealtimeSuite) Participant(ctx context.Context, name string) client.Account {
	email := fmt.Sprintf("%s-%s@e2e.local", name, uuid.NewString()[:8])
	account, err := s.Client.Register(ctx, name, email, "E2ePassword123")
	s.Require().NoError(err, "registering "+name)
	return account
}

func (s *BaseRealtimeSuite) Connect(ctx context.Context, account client.Account) *client.Session {
	session, err := s.Client.Connect(ctx, account.Token)
	s.Require().NoError(err, "connecting "+account.User.Name)
	s.sessions = append(s.sessions, session)
	return session
}

// TearDownTest closes the sessions opened during the test. Subtest cleanups
// would close them between steps.
func (s *BaseRealtimeSuite) TearDownTest() {
	for _, session := range s.sessions {
		_ = session.Close()
	}
	s.sessions = nil
}

// Expect waits for the next event of type t and logs it.
func (s *BaseRealtimeSuite) Expect(ctx context.Context, session *client.Session, t event.Type) client.Event {
	evt, err := session.Next(ctx, t)
	s.Require().NoError(err, "waiting for "+string(t))
	if s.Config.DebugJSON {
		data, _ := json.MarshalIndent(evt, "", "  ")
		s.T().Log(string(data))
	} else {
		s.T().Logf("%s %s", evt.Type, evt.Message)
	}
	return evt
}
