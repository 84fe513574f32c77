package repository

import "math/rand/v2"

// Treap-based rating index.
//
// Ordering: rating DESC, then player id ASC (deterministic). "less" means
// ranks earlier, so an in-order traversal yields the leaderboard from best
// to worst.

type node struct {
	id     string
	rating int
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aRating, aID) should appear before (bRating, bID).
func less(aRating int, aID string, bRating int, bID string) bool {
	if aRating != bRating {
		return aRating > bRating
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, rating int) *node {
	if n == nil {
		return &node{id: id, rating: rating, prio: rand.Uint64(), size: 1} //nolint:gosec // balance only
	}
	if less(rating, id, n.rating, n.id) {
		n.left = insert(n.left, id, rating)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, rating)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, rating int) *node {
	if n == nil {
		return nil
	}
	if rating == n.rating && id == n.id {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, rating)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, rating)
		}
	} else if less(rating, id, n.rating, n.id) {
		n.left = deleteNode(n.left, id, rating)
	} else {
		n.right = deleteNode(n.right, id, rating)
	}
	fix(n)
	return n
}

// collectTop appends up to limit ids in rank order. limit <= 0 collects all.
func collectTop(n *node, limit int, out *[]string) {
	if n == nil || (limit > 0 && len(*out) >= limit) {
		return
	}
	collectTop(n.left, limit, out)
	if limit <= 0 || len(*out) < limit {
		*out = append(*out, n.id)
	}
	collectTop(n.right, limit, out)
}
