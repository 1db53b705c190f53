package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Scopecam Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #ddd; margin: 0; padding: 20px; }
        h1 { font-size: 1.3em; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 16px; margin-bottom: 16px; max-width: 640px; }
        .row { display: flex; justify-content: space-between; padding: 3px 0; }
        .row span:first-child { color: #888; }
        .state-playing { color: #5c5; }
        .state-error { color: #c55; }
        button { background: #333; color: #ddd; border: 1px solid #555; border-radius: 4px; padding: 8px 16px; margin-right: 8px; cursor: pointer; }
        button:hover { background: #444; }
        code { color: #8af; }
    </style>
</head>
<body>
    <h1>Scopecam Monitor</h1>

    <div class="panel">
        <h2>Session</h2>
        <div class="row"><span>State</span><span id="state">-</span></div>
        <div class="row"><span>Network</span><span id="network">-</span></div>
        <div class="row"><span>Stream URL</span><span id="url">-</span></div>
        <div class="row"><span>Frames received</span><span id="frames">-</span></div>
        <div class="row"><span>Frames dropped</span><span id="dropped">-</span></div>
        <button onclick="post('/api/session/probe')">Probe</button>
    </div>

    <div class="panel">
        <h2>Recording</h2>
        <div class="row"><span>Active</span><span id="rec-active">-</span></div>
        <div class="row"><span>Frames written</span><span id="rec-frames">-</span></div>
        <div class="row"><span>Bytes</span><span id="rec-bytes">-</span></div>
        <div class="row"><span>Queue</span><span id="rec-queue">-</span></div>
        <button onclick="post('/api/recording/start')">Start</button>
        <button onclick="post('/api/recording/stop')">Stop</button>
    </div>

    <div class="panel">
        <h2>Live feed</h2>
        <p>Raw H.264 elementary stream: <code>curl -sN /stream.h264 | mpv -</code></p>
    </div>

    <script>
        function post(path) { fetch(path, { method: 'POST' }); }
        function set(id, value) { document.getElementById(id).textContent = value; }

        const events = new EventSource('/api/status/stream');
        events.onmessage = (ev) => {
            const st = JSON.parse(ev.data);
            const state = document.getElementById('state');
            state.textContent = st.session.state;
            state.className = 'state-' + st.session.state;
            set('network', st.session.network_name || '-');
            set('url', st.session.stream_url || '-');
            set('frames', st.stream.frames_received);
            set('dropped', st.stream.frames_dropped);
            set('rec-active', st.recording.active);
            set('rec-frames', st.recording.frames_written);
            set('rec-bytes', st.recording.bytes);
            set('rec-queue', st.recording.queue_percent + '%');
        };
    </script>
</body>
</html>
`
