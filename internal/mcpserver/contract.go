package mcpserver

// ReportFormat describes the JSON drift report returned by the compare tool.
const ReportFormat = `# driftguard Drift Report Format

The compare tool returns one JSON object:

` + "```" + `json
{
  "id": "5f0c2a9e-...",
  "root": "/etc/app",
  "baseline_taken_at": "2026-10-17T08:00:00Z",
  "current_taken_at": "2026-10-17T09:00:00Z",
  "records": [
    {"path": "b.conf", "kind": "new", "current": {"sha256": "..."}},
    {"path": "a.conf", "kind": "modified", "previous": {"sha256": "..."}, "current": {"sha256": "..."}},
    {"path": "old.conf", "kind": "deleted", "previous": {"sha256": "..."}},
    {"path": "secret.conf", "kind": "became_unreadable", "previous": {"sha256": "..."}, "current": {"unreadable": "permission denied"}}
  ]
}
` + "```" + `

## Kinds

| kind | meaning | previous | current |
|---|---|---|---|
| ` + "`new`" + ` | path exists now, not in the baseline | absent | present |
| ` + "`modified`" + ` | both readable, content hash differs | present | present |
| ` + "`deleted`" + ` | path was in the baseline, gone now | present | absent |
| ` + "`became_unreadable`" + ` | readable in the baseline, unreadable now | present | unreadable |
| ` + "`became_readable`" + ` | unreadable in the baseline, readable now | unreadable | present |

## Rules

1. **Records are ordered** by kind in the table order above, then by path.
2. **Paths** are relative to ` + "`root`" + ` and use forward slashes.
3. **A digest** carries either ` + "`sha256`" + ` (lowercase hex) or ` + "`unreadable`" + ` (the cause), never both.
4. **Unreadable on both sides** is not drift, even when the cause text changed.
5. **An empty records list** means no drift. The baseline is never updated by compare;
   call snapshot to accept the current state.
6. **Directories** are never listed; an empty directory appearing or vanishing is not drift.
`
