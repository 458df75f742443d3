package dashboard

// indexHTML is the dashboard page. It renders the status counters and
// the latest jobs, refreshing every 5 seconds over the JSON endpoints.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>queuectl</title>
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f5f5f5; padding: 20px; }
.container { max-width: 1100px; margin: 0 auto; }
h1 { margin-bottom: 16px; }
.cards { display: flex; gap: 12px; margin-bottom: 24px; }
.card { flex: 1; background: #fff; border-radius: 6px; padding: 16px; box-shadow: 0 1px 3px rgba(0,0,0,.1); text-align: center; }
.card .count { font-size: 28px; font-weight: 600; }
.card .label { color: #666; font-size: 13px; text-transform: uppercase; }
table { width: 100%; background: #fff; border-collapse: collapse; border-radius: 6px; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
th, td { padding: 8px 12px; text-align: left; border-bottom: 1px solid #eee; font-size: 14px; }
th { background: #fafafa; color: #666; }
td.state-completed { color: #2a7d2a; }
td.state-dead { color: #b00020; }
td.state-processing { color: #b8860b; }
</style>
</head>
<body>
<div class="container">
<h1>queuectl</h1>
<div class="cards" id="cards"></div>
<table>
<thead><tr><th>ID</th><th>Command</th><th>State</th><th>Priority</th><th>Attempts</th><th>Created</th></tr></thead>
<tbody id="jobs"></tbody>
</table>
</div>
<script>
async function refresh() {
	try {
		const stats = await (await fetch('/api/status')).json();
		const cards = ['pending', 'processing', 'completed', 'failed', 'dead'].map(function (s) {
			return '<div class="card"><div class="count">' + (stats[s] || 0) + '</div><div class="label">' + s + '</div></div>';
		});
		document.getElementById('cards').innerHTML = cards.join('');

		const jobs = await (await fetch('/api/jobs?limit=25')).json();
		document.getElementById('jobs').innerHTML = jobs.map(function (j) {
			return '<tr><td>' + j.id + '</td><td>' + escapeHTML(j.command) + '</td>' +
				'<td class="state-' + j.state + '">' + j.state + '</td>' +
				'<td>' + j.priority + '</td><td>' + j.attempts + '/' + j.max_retries + '</td>' +
				'<td>' + j.created_at + '</td></tr>';
		}).join('');
	} catch (e) {
		// keep the last rendered state on transient errors
	}
}
function escapeHTML(s) {
	const div = document.createElement('div');
	div.appendChild(document.createTextNode(s));
	return div.innerHTML;
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
