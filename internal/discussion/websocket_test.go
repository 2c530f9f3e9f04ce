package discussion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/speaker"
)

type wireEvent struct {
	Type    string          `json:"type"`
	Agent   string          `json:"agent"`
	Content json.RawMessage `json:"content"`
	Message string          `json:"message"`
}

func (e wireEvent) text() string {
	var s string
	_ = json.Unmarshal(e.Content, &s)
	return s
}

func newTestServer(t *testing.T, responder Responder, opts ...DriverOption) (*httptest.Server, *SessionManager) {
	t.Helper()
	roster := testRoster(t)
	sm := NewSessionManager(nil)
	d := NewDriver(speaker.New(), responder, DriverConfig{}, opts...)
	h := NewWebSocketHandler(d, sm, roster, "Default kickoff.", "", true)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, sm
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("Write(%s) error = %v", frame, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var e wireEvent
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", data, err)
	}
	return e
}

// readUntil reads events until a system message with the given text arrives.
func readUntil(t *testing.T, conn *websocket.Conn, notice string) []wireEvent {
	t.Helper()
	var events []wireEvent
	for {
		e := readEvent(t, conn)
		events = append(events, e)
		if e.Type == EventSystemMessage && e.text() == notice {
			return events
		}
	}
}

func waitReleased(t *testing.T, sm *SessionManager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for sm.Active() != nil {
		if time.Now().After(deadline) {
			t.Fatal("session slot was not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketFullDiscussion(t *testing.T) {
	responder := classroomScript()
	srv, sm := newTestServer(t, responder)
	conn := dial(t, srv)

	if e := readEvent(t, conn); e.Type != EventSystemMessage || e.text() != GreetingNotice {
		t.Fatalf("greeting = %+v", e)
	}

	send(t, conn, `{"type":"ping"}`)
	send(t, conn, `{"type":"start"}`)
	send(t, conn, `{"type":"user_message","content":"I think it is fine. Teacher, can you sum up?"}`)

	events := readUntil(t, conn, speaker.ConcludedNotice)

	var agents []string
	var sawList bool
	for _, e := range events {
		switch e.Type {
		case EventAgentList:
			sawList = true
		case EventAgentMessage:
			agents = append(agents, e.Agent)
		case EventError:
			t.Fatalf("unexpected error event: %s", e.Message)
		}
	}
	if !sawList {
		t.Error("no agent_list event")
	}
	if got := strings.Join(agents, ","); got != "Teacher,Alvin,Bianca,You,Teacher" {
		t.Errorf("speakers = %s", got)
	}

	waitReleased(t, sm)
	for _, c := range responder.Calls() {
		if c.kickoff != "Default kickoff." {
			t.Errorf("kickoff = %q, want default", c.kickoff)
		}
	}
}

func TestWebSocketInputAfterConclusionStartsNewDiscussion(t *testing.T) {
	recorder := &fakeRecorder{finishDelay: 100 * time.Millisecond}
	srv, sm := newTestServer(t, classroomScript(), WithRecorder(recorder))
	conn := dial(t, srv)
	readEvent(t, conn)

	send(t, conn, `{"type":"start"}`)
	send(t, conn, `{"type":"user_message","content":"I think it is fine. Teacher, can you sum up?"}`)
	readUntil(t, conn, speaker.ConcludedNotice)

	// The transcript is still being archived when this arrives.
	send(t, conn, "A new topic please.")
	readUntil(t, conn, StartedNotice)
	readUntil(t, conn, speaker.ConcludedNotice)
	waitReleased(t, sm)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.created) != 2 {
		t.Fatalf("archived discussions = %d, want 2", len(recorder.created))
	}
	if got := recorder.created[1].Kickoff; got != "A new topic please." {
		t.Errorf("second kickoff = %q, want the input sent after conclusion", got)
	}
	if recorder.finished != 2 || recorder.outcome != domain.OutcomeConcluded {
		t.Errorf("finished = %d, outcome = %q", recorder.finished, recorder.outcome)
	}
}

func TestWebSocketRejectsSecondDiscussion(t *testing.T) {
	responder := &scriptedResponder{replies: map[string][]string{
		domain.TeacherName: {"You, what do you think?"},
	}}
	srv, sm := newTestServer(t, responder)

	first := dial(t, srv)
	readEvent(t, first)
	send(t, first, "Let's talk about volcanoes.")
	readUntil(t, first, speaker.Announce(domain.HumanName))

	second := dial(t, srv)
	readEvent(t, second)
	send(t, second, `{"type":"start"}`)
	if e := readEvent(t, second); e.Type != EventSystemMessage || e.text() != BusyNotice {
		t.Fatalf("second connection got %+v, want busy notice", e)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := second.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("second Read() error = %v, want normal closure", err)
	}

	if active := sm.Active(); active == nil || active.Kickoff != "Let's talk about volcanoes." {
		t.Fatalf("active session = %+v, want the first one", active)
	}

	send(t, first, `{"type":"terminate"}`)
	readUntil(t, first, TerminatedNotice)
	waitReleased(t, sm)
}

func TestWebSocketRestart(t *testing.T) {
	responder := &scriptedResponder{replies: map[string][]string{
		domain.TeacherName: {"You, what do you think?"},
	}}
	srv, sm := newTestServer(t, responder)
	conn := dial(t, srv)
	readEvent(t, conn)

	send(t, conn, `{"type":"start","content":"Topic one."}`)
	readUntil(t, conn, speaker.Announce(domain.HumanName))
	firstID := sm.Active().ID

	send(t, conn, `{"type":"command","content":"restart"}`)
	readUntil(t, conn, RestartedNotice)
	readUntil(t, conn, speaker.Announce(domain.HumanName))

	active := sm.Active()
	if active == nil || active.ID == firstID {
		t.Fatalf("active session after restart = %+v, want a new one", active)
	}
	if active.Kickoff != "Default kickoff." {
		t.Errorf("restart kickoff = %q, want default", active.Kickoff)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitReleased(t, sm)
}

func TestWebSocketRejectsOrigin(t *testing.T) {
	roster := testRoster(t)
	h := NewWebSocketHandler(NewDriver(speaker.New(), &scriptedResponder{}, DriverConfig{}), NewSessionManager(nil), roster, "k", "https://class.example", false)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
