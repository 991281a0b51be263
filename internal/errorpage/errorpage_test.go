package errorpage

import (
	"errors"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	body := string(Render(errors.New("connect ECONNREFUSED 127.0.0.1:5173"), 5173))

	for _, want := range []string{
		"<!DOCTYPE html>",
		"<h1>Preview proxy error</h1>",
		"port 5173",
		"<pre>connect ECONNREFUSED 127.0.0.1:5173</pre>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q:\n%s", want, body)
		}
	}
}

func TestRender_EscapesMessage(t *testing.T) {
	body := string(Render(errors.New(`<script>alert("x")</script>`), 3000))

	if strings.Contains(body, `<script>alert`) {
		t.Errorf("message was not escaped:\n%s", body)
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("escaped message missing:\n%s", body)
	}
}

func TestRender_NilError(t *testing.T) {
	body := string(Render(nil, 3000))
	if !strings.Contains(body, "<pre>unknown error</pre>") {
		t.Errorf("nil error not rendered:\n%s", body)
	}
}
