// Package errorpage renders the HTML document shown in the preview iframe
// when the dev server cannot be reached.
package errorpage

import (
	"bytes"
	"html/template"
)

var page = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Preview unavailable</title>
<style>
  body { margin: 0; padding: 2rem; background: #0d1117; color: #c9d1d9; font-family: system-ui, sans-serif; }
  h1 { color: #f85149; font-size: 1.25rem; margin: 0 0 1rem; }
  p { color: #8b949e; margin: 0 0 1rem; }
  pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 1rem; white-space: pre-wrap; word-break: break-word; }
</style>
</head>
<body>
<h1>Preview proxy error</h1>
<p>Could not reach the dev server. Check that it is running on port {{.Port}}.</p>
<pre>{{.Message}}</pre>
</body>
</html>
`))

// Render returns the error page for err. The message is HTML escaped.
func Render(err error, port int) []byte {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	var buf bytes.Buffer
	if execErr := page.Execute(&buf, struct {
		Port    int
		Message string
	}{port, msg}); execErr != nil {
		// Only reachable on a write failure, which bytes.Buffer never returns.
		return []byte("<pre>preview proxy error</pre>")
	}
	return buf.Bytes()
}
