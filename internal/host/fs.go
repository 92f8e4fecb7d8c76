package host

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoSuchPath   = errors.New("host: no such file or directory")
	ErrNotDirectory = errors.New("host: not a directory")
	ErrIsDirectory  = errors.New("host: is a directory")
)

const motd = "Welcome to your new host.\nType 'help' to list commands.\n"

// Node is a file or directory in a host filesystem. A host owns its tree
// exclusively; nodes are never shared between hosts.
type Node struct {
	Name     string
	IsDir    bool
	Content  string
	Children []*Node
}

func Dir(name string, children ...*Node) *Node {
	return &Node{Name: name, IsDir: true, Children: children}
}

func File(name, content string) *Node {
	return &Node{Name: name, Content: content}
}

// DefaultFilesystem is the tree every freshly created host starts with.
func DefaultFilesystem() *Node {
	return Dir("",
		Dir("home"),
		Dir("bin"),
		Dir("etc", File("motd", motd)),
		Dir("logs"),
	)
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Name: n.Name, IsDir: n.IsDir, Content: n.Content}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Lookup resolves a slash separated path from n. Leading slashes, empty
// segments and "." are ignored; ".." climbs toward n and stops there.
func (n *Node) Lookup(path string) (*Node, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPath, path)
	}
	stack := []*Node{n}
	for _, seg := range strings.Split(path, "/") {
		cur := stack[len(stack)-1]
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if !cur.IsDir {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, path)
		}
		next := cur.child(seg)
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchPath, path)
		}
		stack = append(stack, next)
	}
	return stack[len(stack)-1], nil
}

// List returns the entry names of the directory at path, sorted, with a
// trailing slash on directories.
func (n *Node) List(path string) ([]string, error) {
	dir, err := n.Lookup(path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	names := make([]string, 0, len(dir.Children))
	for _, c := range dir.Children {
		if c.IsDir {
			names = append(names, c.Name+"/")
		} else {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the content of the file at path.
func (n *Node) Read(path string) (string, error) {
	f, err := n.Lookup(path)
	if err != nil {
		return "", err
	}
	if f.IsDir {
		return "", fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}
	return f.Content, nil
}
