package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Barcode Scanner Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
    <style>
        body { font-family: sans-serif; margin: 0; background: #111; color: #eee; }
        .app { max-width: 960px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .badge { padding: 4px 8px; border-radius: 4px; background: #333; font-size: 12px; }
        #preview { width: 100%; background: #000; min-height: 240px; display: block; }
        #events { font-family: monospace; font-size: 12px; max-height: 480px; overflow-y: auto; }
        #permission { display: none; margin-top: 8px; }
        button, select { margin: 4px 4px 4px 0; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>Barcode Scanner</h1>
            <span class="badge" id="status-badge">idle</span>
        </div>

        <div class="grid">
            <div class="panel">
                <div>
                    <button type="button" id="btn-start">Start</button>
                    <button type="button" id="btn-stop">Stop</button>
                    <select id="mode">
                        <option value="continuous">continuous</option>
                        <option value="single">single</option>
                    </select>
                    <select id="orientation">
                        <option value="portraitUp">portraitUp</option>
                        <option value="landscapeLeft">landscapeLeft</option>
                        <option value="portraitDown">portraitDown</option>
                        <option value="landscapeRight">landscapeRight</option>
                    </select>
                </div>
                <div id="permission">
                    Camera permission requested:
                    <button type="button" id="btn-allow">Allow</button>
                    <button type="button" id="btn-deny">Deny</button>
                </div>
                <img id="preview" alt="Scanner preview">
                <p id="preview-size"></p>
            </div>

            <div class="panel">
                <h2>Events</h2>
                <div id="events"></div>
            </div>
        </div>
    </div>

    <script>
        const badge = document.getElementById('status-badge');
        const events = document.getElementById('events');
        const preview = document.getElementById('preview');
        const permission = document.getElementById('permission');

        async function call(method, args) {
            const res = await fetch('/api/method/' + method, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(args || {}),
            });
            const body = await res.json();
            if (body.error) {
                log('error', body.error.code + ': ' + body.error.message);
                throw body.error;
            }
            return body.result;
        }

        function log(kind, text) {
            const line = document.createElement('div');
            line.textContent = new Date().toLocaleTimeString() + ' ' + kind + ' ' + text;
            events.prepend(line);
        }

        async function refreshStatus() {
            try {
                const st = await call('status');
                badge.textContent = st.state;
            } catch (e) {}
        }

        document.getElementById('btn-start').onclick = async () => {
            badge.textContent = 'starting';
            try {
                const res = await call('start', {mode: document.getElementById('mode').value});
                preview.src = '/texture/' + res.textureId;
                document.getElementById('preview-size').textContent =
                    res.previewWidth + ' x ' + res.previewHeight;
            } catch (e) {}
            refreshStatus();
        };

        document.getElementById('btn-stop').onclick = async () => {
            await call('stop');
            preview.removeAttribute('src');
            refreshStatus();
        };

        document.getElementById('orientation').onchange = (e) => {
            call('setOrientation', {orientation: e.target.value});
        };

        document.getElementById('btn-allow').onclick = () => {
            permission.style.display = 'none';
            call('resolvePermission', {granted: true});
        };
        document.getElementById('btn-deny').onclick = () => {
            permission.style.display = 'none';
            call('resolvePermission', {granted: false});
        };

        const source = new EventSource('/api/events');
        source.onmessage = (msg) => {
            const ev = JSON.parse(msg.data);
            switch (ev.event) {
            case 'code':
                log('code', typeof ev.args === 'string' ? ev.args : ev.args.type + ' ' + ev.args.value);
                break;
            case 'permissionRequest':
                permission.style.display = 'block';
                log('permission', 'requested');
                break;
            default:
                log(ev.event, JSON.stringify(ev.args));
            }
            refreshStatus();
        };

        refreshStatus();
    </script>
</body>
</html>
`
