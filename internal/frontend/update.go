package frontend

import "github.com/tidwall/gjson"

// applyLineOps computes a view's new line cache from its previous cache and
// an engine update's op list. The op stream walks the old cache front to
// back: "copy" and "update" carry lines forward, "skip" discards, "ins"
// introduces engine-sent lines, "invalidate" emits placeholders the engine
// may fill in later.
func applyLineOps(old []Line, ops gjson.Result) []Line {
	var out []Line
	oldIdx := 0

	ops.ForEach(func(_, op gjson.Result) bool {
		n := int(op.Get("n").Int())
		switch op.Get("op").String() {
		case "copy", "update":
			for i := 0; i < n && oldIdx < len(old); i++ {
				out = append(out, old[oldIdx])
				oldIdx++
			}
		case "skip":
			oldIdx += n
		case "ins":
			op.Get("lines").ForEach(func(_, line gjson.Result) bool {
				out = append(out, Line{Text: line.Get("text").String(), Valid: true})
				return true
			})
		case "invalidate":
			for i := 0; i < n; i++ {
				out = append(out, Line{})
			}
		}
		return true
	})
	return out
}
