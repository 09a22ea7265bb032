// Package server exposes HTTP handlers, including health checks and the
// built-in test page.
package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "coedit server is running!")
}

// TestPageHandler serves an HTML page that joins the shared document from a
// browser. The page dials the WebSocket listener on wsAddr's port of the
// host it was loaded from.
func TestPageHandler(wsAddr string) http.HandlerFunc {
	port := "8800"
	if _, p, err := net.SplitHostPort(wsAddr); err == nil && p != "" {
		port = p
	}
	page := strings.ReplaceAll(testPageHTML, "{{WS_PORT}}", port)

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, page)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>coedit WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        textarea { width: 600px; height: 200px; display: block; margin: 10px 0; }
        #activity {
            border: 1px solid #ccc;
            height: 150px;
            padding: 10px;
            overflow-y: scroll;
            background-color: #f9f9f9;
        }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>coedit WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="username" placeholder="Your name">
        <button id="joinButton" onclick="join()">Join</button>
    </div>

    <textarea id="editor" disabled></textarea>
    <div>Users: <span id="users"></span></div>
    <div id="activity"></div>

    <script>
        let ws = null;
        const editor = document.getElementById('editor');
        const statusDiv = document.getElementById('status');

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            editor.disabled = !connected;
        }

        function render(msg) {
            const data = msg.data || {};
            if (msg.type === 'userevent') {
                const names = Object.values(data.users || {}).map(u => u.username);
                document.getElementById('users').textContent = names.join(', ');
            } else if (msg.type === 'contentchange') {
                if (editor.value !== data.editorContent) {
                    editor.value = data.editorContent || '';
                }
            }
            const activity = document.getElementById('activity');
            activity.textContent = '';
            (data.userActivity || []).forEach(function(line) {
                const el = document.createElement('div');
                el.textContent = line;
                activity.appendChild(el);
            });
        }

        function join() {
            const username = document.getElementById('username').value.trim();
            if (!username) {
                return;
            }
            ws = new WebSocket('ws://' + location.hostname + ':{{WS_PORT}}/ws');
            ws.onopen = function() {
                updateStatus(true);
                ws.send(JSON.stringify({ type: 'userevent', username: username }));
            };
            ws.onmessage = function(event) { render(JSON.parse(event.data)); };
            ws.onclose = function() { updateStatus(false); ws = null; };
        }

        editor.addEventListener('input', function() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'contentchange', content: editor.value }));
            }
        });
    </script>
</body>
</html>`
