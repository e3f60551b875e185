package realtime

import (
	"errors"
	"strings"
	"testing"
)

func TestEmitter_EmitWithoutListeners(t *testing.T) {
	e := NewEmitter[string]()
	if err := e.Emit("nobody", "x"); err != nil {
		t.Errorf("Emit without listeners returned %v", err)
	}
}

func TestEmitter_HandlersRunInRegistrationOrder(t *testing.T) {
	e := NewEmitter[string]()
	var calls []string
	e.On("move", func(p string) error {
		calls = append(calls, "first:"+p)
		return nil
	})
	e.AddListener("move", func(p string) error {
		calls = append(calls, "second:"+p)
		return nil
	})
	e.On("other", func(p string) error {
		calls = append(calls, "other")
		return nil
	})

	if err := e.Emit("move", "a"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := "first:a,second:a"
	if got := strings.Join(calls, ","); got != want {
		t.Errorf("calls %q, want %q", got, want)
	}
	if n := e.ListenerCount("move"); n != 2 {
		t.Errorf("ListenerCount %d, want 2", n)
	}
}

func TestEmitter_PayloadPassedUnchanged(t *testing.T) {
	e := NewEmitter[[]byte]()
	payload := []byte("abc")
	var got []byte
	e.On("state", func(p []byte) error {
		got = p
		return nil
	})
	_ = e.Emit("state", payload)
	if &got[0] != &payload[0] {
		t.Error("payload was copied")
	}
}

func TestEmitter_ErrorsAreJoinedAndAllHandlersRun(t *testing.T) {
	e := NewEmitter[int]()
	errBoom := errors.New("boom")
	ran := 0
	e.On("move", func(int) error {
		ran++
		return errBoom
	})
	e.On("move", func(int) error {
		ran++
		return nil
	})

	err := e.Emit("move", 1)
	if !errors.Is(err, errBoom) {
		t.Errorf("err %v, want boom", err)
	}
	if ran != 2 {
		t.Errorf("ran %d handlers, want 2", ran)
	}
	if !strings.HasPrefix(err.Error(), "move: ") {
		t.Errorf("error %q should name the event", err)
	}
}

func TestEmitter_HandlerMayRegisterDuringEmit(t *testing.T) {
	e := NewEmitter[int]()
	e.On("a", func(int) error {
		e.On("a", func(int) error { return nil })
		return nil
	})
	if err := e.Emit("a", 0); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if n := e.ListenerCount("a"); n != 2 {
		t.Errorf("ListenerCount %d, want 2", n)
	}
}
