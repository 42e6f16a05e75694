package server

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="3">
<title>Market Dashboard</title>
<style>
body { background: #0f172a; color: #fff; font-family: sans-serif; margin: 0; padding: 24px; }
header { display: flex; justify-content: space-between; align-items: center; max-width: 72rem; margin: 0 auto 40px; }
.filters a { padding: 8px 16px; border-radius: 6px; color: #94a3b8; text-decoration: none; }
.filters a.active { background: #2563eb; color: #fff; }
.filters a.active.fitness { background: #059669; }
.conn { font-size: 12px; padding: 4px 10px; border-radius: 9999px; }
.conn.connected { background: #065f46; }
.conn.connecting { background: #92400e; }
.conn.disconnected { background: #9f1239; }
.grid { display: grid; gap: 24px; grid-template-columns: repeat(auto-fill, minmax(18rem, 1fr)); max-width: 72rem; margin: 0 auto; }
.card { padding: 24px; background: #1e293b; border: 1px solid #334155; border-radius: 16px; }
.symbol { color: #60a5fa; font-weight: bold; font-size: 14px; }
.up { color: #34d399; } .down { color: #fb7185; }
.price { font-family: monospace; font-size: 24px; margin: 16px 0; }
.unit, .meta { color: #64748b; font-size: 12px; }
.meta { display: flex; justify-content: space-between; border-top: 1px solid #334155; padding-top: 16px; text-transform: uppercase; }
.notice { text-align: center; padding: 32px; }
.notice.error { color: #ef4444; }
</style>
</head>
<body>
<header>
  <h1>Market Dashboard</h1>
  <span class="conn {{.Connection}}">{{.Connection}}</span>
  <nav class="filters">
    <a href="/?filter=all" class="{{if eq .Filter "all"}}active{{end}}">All Assets</a>
    <a href="/?filter=fitness" class="fitness {{if eq .Filter "fitness"}}active{{end}}">Diet Tracker</a>
  </nav>
</header>
{{if eq .Status "loading"}}
<div class="notice">Loading live data...</div>
{{else if eq .Status "error"}}
<div class="notice error">Connection Error</div>
{{else}}
<div class="grid">
{{range .Cards}}
  <div class="card">
    <div style="display:flex;justify-content:space-between">
      <span class="symbol">{{.Symbol}}</span>
      <span class="{{if .Up}}up{{else}}down{{end}}">{{if .Up}}▲{{else}}▼{{end}} {{.Change}}%</span>
    </div>
    <div class="price">{{.Price}} <span class="unit">{{.Unit}}</span></div>
    {{if or .Calories .Weight}}<div class="unit">{{.Calories}} {{.Weight}}</div>{{end}}
    <div class="meta"><span>{{.Type}}</span><span>{{.Time}}</span></div>
  </div>
{{end}}
</div>
{{end}}
</body>
</html>
`
