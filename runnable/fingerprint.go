package runnable

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
)

// Fingerprint computes the stable structural hash of a Runnable tree
// (spec.md §6.3): a function of kind, name, ordered children and, for an
// Agent, the ordered names of its tools. Closures (Step.Run), model
// configs, tool schemas and descriptions, and merge/until functions never
// affect it, so changing a prompt, swapping a model, or tuning a tool's
// schema does not invalidate in-flight resumes — only reshaping the tree
// (reordering/adding/removing children, changing a node's kind or name) or
// changing an Agent's tool set does.
func Fingerprint(rn Runnable) string {
	h := sha256.New()
	writeShape(h, rn)
	return hex.EncodeToString(h.Sum(nil))
}

func writeShape(w io.Writer, rn Runnable) {
	if rn == nil {
		io.WriteString(w, "nil;")
		return
	}
	io.WriteString(w, string(rn.InvocationKind()))
	io.WriteString(w, ";")
	io.WriteString(w, rn.RunnableName())
	io.WriteString(w, ";")

	switch v := rn.(type) {
	case *Agent:
		names := make([]string, len(v.Tools))
		for i, t := range v.Tools {
			names[i] = t.Name
		}
		io.WriteString(w, "tools="+strings.Join(names, ","))
		io.WriteString(w, ";")

	case *Step:
		// no structural children; identity is name + kind only.

	case *Sequence:
		io.WriteString(w, "children="+strconv.Itoa(len(v.Children))+";")
		for _, c := range v.Children {
			writeShape(w, c)
		}

	case *Parallel:
		io.WriteString(w, "children="+strconv.Itoa(len(v.Children))+";")
		for _, c := range v.Children {
			writeShape(w, c)
		}

	case *Loop:
		io.WriteString(w, "body=")
		writeShape(w, v.Body)
	}
}
