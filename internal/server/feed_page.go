package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// feedPageHTML renders credit events from /ws as they happen.
const feedPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Feed · SwipeFi</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --accent: #22c55e; --red: #ef4444; --blue: #3b82f6; --amber: #f59e0b;
        }
        body {
            font-family: -apple-system, 'Inter', sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
        }
        .mono { font-family: 'JetBrains Mono', ui-monospace, monospace; }
        .container { max-width: 800px; margin: 0 auto; padding: 0 24px; }
        .feed-header {
            padding: 48px 0 24px;
            display: flex; justify-content: space-between; align-items: flex-end;
            border-bottom: 1px solid var(--border);
        }
        .feed-title { font-size: 24px; font-weight: 600; margin-bottom: 4px; }
        .feed-desc { color: var(--text-secondary); }
        .live-badge {
            display: flex; align-items: center; gap: 8px;
            background: var(--bg-subtle); border: 1px solid var(--border);
            padding: 8px 14px; border-radius: 20px; font-size: 13px; color: var(--text-secondary);
        }
        .live-dot { width: 8px; height: 8px; background: var(--text-tertiary); border-radius: 50%; }
        .live-dot.on { background: var(--accent); animation: pulse 2s ease-in-out infinite; }
        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.4; } }

        .ev {
            display: grid; grid-template-columns: 1fr auto;
            gap: 16px; padding: 20px 0; border-bottom: 1px solid var(--border);
        }
        .ev.new { animation: slideIn 0.3s ease-out; }
        @keyframes slideIn { from { opacity: 0; transform: translateY(-8px); } to { opacity: 1; transform: translateY(0); } }
        .ev-type {
            display: inline-block; border: 1px solid var(--border);
            padding: 2px 8px; border-radius: 4px; font-size: 11px;
            text-transform: uppercase; margin-bottom: 8px;
        }
        .ev-type.spend { color: var(--blue); }
        .ev-type.repay { color: var(--accent); }
        .ev-type.overdue { color: var(--red); }
        .ev-type.score_evaluated { color: var(--amber); }
        .ev-wallet { color: var(--text-secondary); font-size: 13px; }
        .ev-right { text-align: right; }
        .ev-amount { font-size: 18px; font-weight: 600; }
        .ev-time { font-size: 12px; color: var(--text-tertiary); margin-top: 4px; }
        .empty { text-align: center; padding: 80px 24px; color: var(--text-tertiary); }
    </style>
</head>
<body>
    <main class="container">
        <div class="feed-header">
            <div>
                <h1 class="feed-title">Credit Feed</h1>
                <p class="feed-desc">Scores, spends and repayments as they happen</p>
            </div>
            <div class="live-badge"><span class="live-dot" id="dot"></span> Live</div>
        </div>
        <div id="feed"><div class="empty">Waiting for credit activity...</div></div>
    </main>
    <script>
        const MAX = 50;
        const feed = document.getElementById('feed');
        const esc = s => String(s ?? '').replace(/[&<>"']/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'})[c]);
        const usd = n => '$' + (parseFloat(n) || 0).toLocaleString(undefined, {maximumFractionDigits: 2});

        function detail(ev) {
            if (ev.type === 'score_evaluated' && ev.data) return esc(ev.data.score) + ' · ' + esc(ev.data.riskLevel);
            return ev.amount ? usd(ev.amount) : '';
        }

        function add(ev) {
            if (feed.querySelector('.empty')) feed.innerHTML = '';
            const row = document.createElement('div');
            row.className = 'ev new';
            row.innerHTML =
                '<div><span class="ev-type ' + esc(ev.type) + '">' + esc(ev.type.replace('_', ' ')) + '</span>' +
                '<div class="ev-wallet mono">' + esc(ev.wallet) + '</div></div>' +
                '<div class="ev-right"><div class="ev-amount mono">' + detail(ev) + '</div>' +
                '<div class="ev-time">' + esc(new Date(ev.timestamp).toLocaleTimeString()) + '</div></div>';
            feed.prepend(row);
            while (feed.children.length > MAX) feed.lastChild.remove();
        }

        function connect() {
            const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            const dot = document.getElementById('dot');
            ws.onopen = () => { dot.classList.add('on'); ws.send(JSON.stringify({allEvents: true})); };
            ws.onmessage = m => { try { add(JSON.parse(m.data)); } catch (e) {} };
            ws.onclose = () => { dot.classList.remove('on'); setTimeout(connect, 3000); };
        }
        connect();
    </script>
</body>
</html>`

func feedPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, feedPageHTML)
}
