package objstore

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// CommitRefs extracts the tree and parent object IDs referenced by a
// commit object's body, which is git's plain-text commit format:
//
//	tree <hex>
//	parent <hex>
//	...
//	author ...
//	committer ...
//
//	<message>
func CommitRefs(data []byte) (tree ObjectID, parents []ObjectID, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // header/body separator
		}
		switch {
		case strings.HasPrefix(line, "tree "):
			tree = ObjectID(strings.TrimPrefix(line, "tree "))
		case strings.HasPrefix(line, "parent "):
			parents = append(parents, ObjectID(strings.TrimPrefix(line, "parent ")))
		}
	}
	if tree == "" {
		return "", nil, fmt.Errorf("objstore: commit missing tree line")
	}
	return tree, parents, nil
}

// TreeEntries extracts the object IDs referenced by a tree object's body,
// git's binary tree format: a sequence of "<mode> <name>\0<20-byte-id>"
// entries.
func TreeEntries(data []byte) ([]ObjectID, error) {
	var ids []ObjectID
	for len(data) > 0 {
		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("objstore: malformed tree entry: no NUL terminator")
		}
		rest := data[nul+1:]
		if len(rest) < 20 {
			return nil, fmt.Errorf("objstore: malformed tree entry: short id")
		}
		ids = append(ids, ObjectID(hex.EncodeToString(rest[:20])))
		data = rest[20:]
	}
	return ids, nil
}
