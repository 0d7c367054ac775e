package filestore

import (
	"sort"
	"strings"
)

// BuildHierarchy derives a file tree from a flat list of file metadata, per
// spec.md §4.3: folders are synthetic nodes, and output order is folders
// first (lexical), then files (lexical), depth-first.
func BuildHierarchy(files []Meta) []*Node {
	root := &Node{Kind: KindFolder, Path: ""}
	folders := map[string]*Node{"": root}

	for i := range files {
		m := files[i]
		ensureFolder(root, folders, ParentFolderPath(m.FilePath))
		parent := folders[ParentFolderPath(m.FilePath)]
		parent.Children = append(parent.Children, &Node{
			Name: FileName(m.FilePath),
			Path: m.FilePath,
			Kind: KindFile,
			Meta: &m,
		})
	}

	sortTree(root)
	return root.Children
}

func ensureFolder(root *Node, folders map[string]*Node, folderPath string) {
	if folderPath == "" {
		return
	}
	if _, ok := folders[folderPath]; ok {
		return
	}

	parentPath := ParentFolderPath(folderPath)
	ensureFolder(root, folders, parentPath)
	parent := folders[parentPath]

	node := &Node{Name: lastSegment(folderPath), Path: folderPath, Kind: KindFolder}
	folders[folderPath] = node
	parent.Children = append(parent.Children, node)
}

func lastSegment(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func sortTree(n *Node) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Kind != b.Kind {
			return a.Kind == KindFolder
		}
		return a.Name < b.Name
	})
	for _, c := range n.Children {
		if c.Kind == KindFolder {
			sortTree(c)
		}
	}
}
