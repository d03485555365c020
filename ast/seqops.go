package ast

const (
	bitPath = 1 << iota
	bitLock
)

// ClassifySequenceOps runs pass 3: bottom-up PATH/LOCK tagging and
// CONTENDED detection, followed by wrapInAsyncBlock placement and the
// push-down optimization, per spec §4.4 point 3. lockFrame is the
// table pass 2 (DeclareSequenceLocks) produced; a Symbol/LookupVal
// whose static path is exactly a declared lock key is tagged PATH.
func ClassifySequenceOps(root Node, lockFrame *LockFrame) {
	cache := map[Node]map[string]int{}
	classify(root, lockFrame, cache)
	pushDownWraps(root)
}

// classify returns this node's own key->bits map (after folding in its
// children), caching it so markWrapCandidates can inspect a child's map
// without recomputing it.
func classify(n Node, lockFrame *LockFrame, cache map[Node]map[string]int) map[string]int {
	if n == nil {
		return nil
	}

	own := map[string]int{}
	var selfLockKey string
	var calleeNode Node
	switch t := n.(type) {
	case *Symbol:
		if lockFrame.DeclaredVars["!"+t.Name] {
			own["!"+t.Name] = bitPath
		}
	case *LookupVal:
		if key, ok := staticDottedKey(t); ok && lockFrame.DeclaredVars[key] {
			own[key] = bitPath
		}
	case *FunCall:
		if t.SeqOp == SeqLock && t.SeqKey != "" {
			own[t.SeqKey] = bitLock
			selfLockKey = t.SeqKey
			calleeNode = t.Callee
		}
	}

	contended := map[string]bool{}
	for _, c := range n.Children() {
		childMap := classify(c, lockFrame, cache)
		for key, bits := range childMap {
			// A locked FunCall's own callee necessarily resolves through
			// the same path it locks (the marked root is part of the
			// callee chain); that's one operation, not a contention
			// between the call and a sibling, so it is not folded into
			// own and never flags CONTENDED against the call itself.
			if key == selfLockKey && c == calleeNode {
				continue
			}
			if existing, seen := own[key]; seen {
				if (existing|bits)&bitLock != 0 {
					contended[key] = true
				}
				own[key] = existing | bits
			} else {
				own[key] = bits
			}
		}
	}

	if len(contended) > 0 {
		base := n.base()
		base.SeqOp = SeqContended
		// record which keys are contended at this node for the
		// wrap-placement step below; reuse SeqKey for the single-key
		// common case, and mark children individually regardless.
		for key := range contended {
			base.SeqKey = key
			markWrapCandidates(n, key, cache)
		}
	}

	cache[n] = own
	return own
}

// markWrapCandidates sets WrapInAsyncBlock on every direct child
// subtree of n whose own (sub-tree-local) classification contains key
// but is not itself contended on key, i.e. the lowest point at which
// the operation touching key is still single-operator.
func markWrapCandidates(n Node, key string, cache map[Node]map[string]int) {
	for _, c := range n.Children() {
		if c == nil {
			continue
		}
		childMap := cache[c]
		if _, has := childMap[key]; has {
			cb := c.base()
			if cb.SeqOp != SeqContended {
				cb.WrapInAsyncBlock = true
			}
		}
	}
}

// staticDottedKey returns the `!`-joined canonical key for a LookupVal
// chain that bottoms out at a Symbol through a sequence of literal
// string Prop accesses (i.e. `a.b.c`), and whether such a key exists at
// all (false if any segment is computed/dynamic).
func staticDottedKey(n *LookupVal) (string, bool) {
	root, segs, ok := StaticPath(n)
	if !ok {
		return "", false
	}
	return canonicalLockKey(append([]string{root}, segs...)), true
}

// StaticPath walks a LookupVal chain rooted at a Symbol through
// literal-string Prop accesses (`a.b.c`), returning the root symbol
// name and the remaining dotted segments. ok is false if any segment is
// computed/dynamic or the chain doesn't bottom out at a bare Symbol.
// Exported so the compiler can route a statically-known path through
// the sequence-lock-aware lookup without re-deriving the walk.
func StaticPath(n *LookupVal) (root string, segs []string, ok bool) {
	var cur Node = n
	for {
		lv, isLV := cur.(*LookupVal)
		if !isLV {
			break
		}
		if lv.Computed {
			return "", nil, false
		}
		lit, isLit := lv.Prop.(*Literal)
		if !isLit {
			return "", nil, false
		}
		name, isStr := lit.Value.(string)
		if !isStr {
			return "", nil, false
		}
		segs = append([]string{name}, segs...)
		cur = lv.Target
	}
	sym, isSym := cur.(*Symbol)
	if !isSym {
		return "", nil, false
	}
	return sym.Name, segs, true
}

// pushDownWraps implements the top-down pass that moves
// WrapInAsyncBlock from a non-operator node down to its sole
// key-carrying child, avoiding a redundant closure around a node that
// itself does nothing but forward to that child.
func pushDownWraps(n Node) {
	if n == nil {
		return
	}
	if n.base().WrapInAsyncBlock && !isOperatorNode(n) {
		children := n.Children()
		if len(children) == 1 && children[0] != nil {
			n.base().WrapInAsyncBlock = false
			children[0].base().WrapInAsyncBlock = true
		}
	}
	for _, c := range n.Children() {
		pushDownWraps(c)
	}
}

// isOperatorNode reports whether n is itself a synchronization point
// (a call, filter, test, or comparison/arithmetic operator) as opposed
// to a pure pass-through grouping node (Group, single-child Output,
// Do with one expr, etc.) that shouldn't itself host the async-block
// closure when only one child actually needs it.
func isOperatorNode(n Node) bool {
	switch n.(type) {
	case *FunCall, *Filter, *Test, *BinOp, *Compare, *UnaryOp, *In, *LookupVal, *Symbol:
		return true
	default:
		return false
	}
}
