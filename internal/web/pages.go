package web

const faviconTag = `<link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>🎓</text></svg>">`

const baseStyle = `
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; background: #1a1a2e; color: #eee; min-height: 100vh; }
  h1 { color: #e94560; }
  input { width: 100%; padding: 12px; border: 1px solid #333; border-radius: 8px; background: #0f3460; color: #eee; font-size: 16px; outline: none; }
  input:focus { border-color: #e94560; }
  .btn { padding: 12px 18px; border: none; border-radius: 8px; font-size: 15px; font-weight: bold; cursor: pointer; transition: all 0.2s; }
  .btn:hover { opacity: 0.85; }
  .btn:disabled { opacity: 0.4; cursor: default; }
  .btn-primary { background: #e94560; color: #fff; }
  .btn-secondary { background: #0f3460; color: #eee; border: 1px solid #555; }
  .error { color: #e94560; font-size: 14px; }
`

const loginHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Tutor</title>
` + faviconTag + `
<style>` + baseStyle + `
  body { display: flex; align-items: center; justify-content: center; }
  .login-box { background: #16213e; border-radius: 16px; padding: 40px; width: 360px; }
  h1 { text-align: center; margin-bottom: 30px; font-size: 22px; }
  .btn { width: 100%; margin-top: 20px; }
  .error { text-align: center; margin-top: 15px; display: none; }
</style>
</head>
<body>
<div class="login-box">
  <h1>🎓 English Tutor</h1>
  <form id="loginForm">
    <input type="password" name="password" placeholder="Panel password" autocomplete="current-password" required>
    <button type="submit" class="btn btn-primary">Log in</button>
    <div class="error" id="error">Wrong password</div>
  </form>
</div>
<script>
document.getElementById('loginForm').onsubmit = async function(e) {
  e.preventDefault();
  var res = await fetch('/api/login', { method: 'POST', body: new URLSearchParams(new FormData(e.target)) });
  if (res.ok) {
    window.location.href = '/';
  } else {
    document.getElementById('error').style.display = 'block';
  }
};
</script>
</body>
</html>`

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Tutor</title>
` + faviconTag + `
<style>` + baseStyle + `
  body { padding: 20px; max-width: 860px; margin: 0 auto; }
  .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 24px; }
  h1 { font-size: 24px; }
  .link-btn { padding: 8px 16px; border: 1px solid #555; border-radius: 6px; color: #aaa; font-size: 13px; text-decoration: none; }
  .card { background: #16213e; border-radius: 12px; padding: 20px; margin-bottom: 20px; }
  .row { display: flex; gap: 10px; align-items: center; flex-wrap: wrap; }
  .badge { padding: 4px 12px; border-radius: 12px; font-size: 13px; font-weight: bold; background: #444; }
  .badge-connected { background: #4ecca3; color: #000; }
  .badge-connecting, .badge-closing { background: #e9a045; color: #000; }
  .badge-mode { background: #0f3460; }
  .badge-speaking { background: #e94560; }
  .meter { flex: 1; min-width: 120px; height: 10px; border-radius: 5px; background: #0f3460; overflow: hidden; }
  .meter div { height: 100%; width: 0; background: #4ecca3; transition: width 0.1s; }
  .messages { max-height: 420px; overflow-y: auto; display: flex; flex-direction: column; gap: 8px; }
  .msg { padding: 10px 14px; border-radius: 10px; max-width: 80%; font-size: 15px; line-height: 1.4; }
  .msg-user { align-self: flex-end; background: #0f3460; }
  .msg-model { align-self: flex-start; background: #2a2a4e; }
  .msg-open { opacity: 0.7; font-style: italic; }
  .hint { font-size: 13px; color: #888; }
  .history-item { padding: 8px 0; border-bottom: 1px solid #2a2a4e; cursor: pointer; font-size: 14px; }
  #error { margin-top: 10px; min-height: 18px; }
</style>
</head>
<body>
<div class="header">
  <h1>🎓 English Tutor</h1>
  <a href="/api/logout" class="link-btn">Log out</a>
</div>

<div class="card">
  <div class="row">
    <button class="btn btn-primary" id="connectBtn" onclick="toggleSession()">Start lesson</button>
    <button class="btn btn-secondary" id="muteBtn" onclick="toggleMute()">Mute</button>
    <span class="badge" id="stateBadge">disconnected</span>
    <span class="badge badge-mode" id="modeBadge">Idle</span>
    <span class="badge" id="speakingBadge" style="display:none">🔊 Speaking</span>
    <div class="meter"><div id="level"></div></div>
  </div>
  <div class="error" id="error"></div>
</div>

<div class="card">
  <div class="messages" id="messages"><div class="hint">Start a lesson and say hello.</div></div>
</div>

<div class="card">
  <form id="keyForm" class="row">
    <input type="password" name="api_key" placeholder="Gemini API key" style="flex:1">
    <button class="btn btn-secondary" type="submit">Save key</button>
  </form>
  <div class="hint" id="keyHint"></div>
</div>

<div class="card">
  <div class="hint" style="margin-bottom:8px">Past lessons</div>
  <div id="history"></div>
</div>

<script>
var state = 'disconnected', muted = false, speakingTimer = null;

function esc(s) {
  var d = document.createElement('div');
  d.textContent = s;
  return d.innerHTML;
}

function renderState(s) {
  state = s;
  var b = document.getElementById('stateBadge');
  b.textContent = s;
  b.className = 'badge badge-' + s;
  var btn = document.getElementById('connectBtn');
  btn.textContent = s === 'disconnected' ? 'Start lesson' : 'End lesson';
  btn.disabled = s === 'closing';
  if (s === 'disconnected') { document.getElementById('level').style.width = '0'; loadHistory(); }
}

function renderMode(label) { document.getElementById('modeBadge').textContent = label; }

function renderMuted(m) {
  muted = m;
  document.getElementById('muteBtn').textContent = m ? 'Unmute' : 'Mute';
}

function renderSpeaking(v) { document.getElementById('speakingBadge').style.display = v ? '' : 'none'; }

function renderMessages(msgs) {
  var el = document.getElementById('messages');
  if (!msgs || !msgs.length) { el.innerHTML = '<div class="hint">Start a lesson and say hello.</div>'; return; }
  el.innerHTML = msgs.map(function(m) {
    return '<div class="msg msg-' + m.role + (m.final ? '' : ' msg-open') + '">' + esc(m.text) + '</div>';
  }).join('');
  el.scrollTop = el.scrollHeight;
}

function showError(msg) { document.getElementById('error').textContent = msg || ''; }

function applyStatus(st) {
  renderState(st.state);
  renderMode(st.mode_label);
  renderMuted(st.muted);
  renderSpeaking(st.speaking);
}

function connectEvents() {
  var ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/events');
  ws.onmessage = function(e) {
    var ev = JSON.parse(e.data);
    switch (ev.type) {
    case 'status': applyStatus(ev.status); renderMessages(ev.messages); break;
    case 'state': renderState(ev.state); if (ev.state === 'connecting') showError(''); break;
    case 'mode': renderMode(ev.label); break;
    case 'speaking': renderSpeaking(ev.speaking); break;
    case 'volume': document.getElementById('level').style.width = Math.round(ev.level * 100) + '%'; break;
    case 'transcript': renderMessages(ev.messages); break;
    case 'error': showError(ev.message); break;
    }
  };
  ws.onclose = function() { setTimeout(connectEvents, 2000); };
}

async function post(path, body) {
  var res = await fetch(path, { method: 'POST', body: body ? new URLSearchParams(body) : undefined });
  if (res.status === 401) { window.location.href = '/login'; return null; }
  return res;
}

async function toggleSession() {
  var res = await post(state === 'disconnected' ? '/api/connect' : '/api/disconnect');
  if (res && !res.ok) {
    var data = await res.json();
    if (!document.getElementById('error').textContent) showError(data.error);
  }
}

async function toggleMute() {
  var res = await post('/api/mute', { muted: String(!muted) });
  if (res && res.ok) renderMuted((await res.json()).muted);
}

async function loadHistory() {
  var res = await fetch('/api/history?limit=20');
  if (!res.ok) return;
  var convs = await res.json();
  document.getElementById('history').innerHTML = convs.length ? convs.map(function(c) {
    return '<div class="history-item" onclick="openConversation(\'' + c.id + '\')">' +
      new Date(c.started_at).toLocaleString() + ' · ' + c.messages + ' messages</div>';
  }).join('') : '<div class="hint">No lessons yet.</div>';
}

async function openConversation(id) {
  var res = await fetch('/api/history/messages?id=' + encodeURIComponent(id));
  if (res.ok && state === 'disconnected') renderMessages(await res.json());
}

async function loadKey() {
  var res = await fetch('/api/credential');
  if (!res.ok) return;
  var data = await res.json();
  document.getElementById('keyHint').textContent = data.key ? 'Saved key: ' + data.key : 'No key saved. A key from the config file or environment is used if set.';
}

document.getElementById('keyForm').onsubmit = async function(e) {
  e.preventDefault();
  var res = await post('/api/credential', new FormData(e.target));
  if (res && res.ok) { e.target.reset(); loadKey(); showError(''); }
};

connectEvents();
loadKey();
loadHistory();
</script>
</body>
</html>`
