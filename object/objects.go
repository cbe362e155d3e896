package object

// Commit is the canonical tuple described in spec.md §3. ParentDigest is
// the zero digest for a root commit.
type Commit struct {
	Metadata         map[string]interface{} `cbor:"metadata"`
	ParentDigest     Digest                  `cbor:"parent"`
	RelatedRefs      []string                `cbor:"related_refs"`
	Subject          string                  `cbor:"subject"`
	Body             string                  `cbor:"body"`
	Timestamp        uint64                  `cbor:"timestamp"`
	RootTreeDigest   Digest                  `cbor:"root_tree"`
	RootTreeMetaHash Digest                  `cbor:"root_tree_meta"`
}

// HasParent reports whether the commit has an ancestor.
func (c Commit) HasParent() bool {
	return !c.ParentDigest.IsZero()
}

// TreeFile is a single (name, file-digest) entry of a DirTree.
type TreeFile struct {
	Name       string `cbor:"name"`
	FileDigest Digest `cbor:"file"`
}

// TreeSubdir is a single (name, tree-digest, meta-digest) entry of a
// DirTree.
type TreeSubdir struct {
	Name       string `cbor:"name"`
	TreeDigest Digest `cbor:"tree"`
	MetaDigest Digest `cbor:"meta"`
}

// DirTree is the canonical directory listing object.
type DirTree struct {
	Files   []TreeFile   `cbor:"files"`
	Subdirs []TreeSubdir `cbor:"subdirs"`
}

// Xattr is a single extended attribute.
type Xattr struct {
	Name  string `cbor:"name"`
	Value []byte `cbor:"value"`
}

// DirMeta holds mode/ownership/xattrs for a directory. It is a leaf: it
// never references other objects.
type DirMeta struct {
	Mode   uint32  `cbor:"mode"`
	UID    uint32  `cbor:"uid"`
	GID    uint32  `cbor:"gid"`
	Xattrs []Xattr `cbor:"xattrs"`
}

// FileInfo carries the POSIX metadata for a File object.
type FileInfo struct {
	Mode           uint32 `cbor:"mode"`
	UID            uint32 `cbor:"uid"`
	GID            uint32 `cbor:"gid"`
	Size           uint64 `cbor:"size"`
	SymlinkTarget  string `cbor:"symlink_target,omitempty"`
	IsSymlink      bool   `cbor:"is_symlink"`
	IsRegularEmpty bool   `cbor:"is_regular_empty"`
}

// File is the content object: file-info, xattrs and body bytes. On the
// remote it may be carried in "archive" form (compressed, standalone) or
// as a local-mode loose file; object.Codec hides that distinction from
// the rest of the pull engine.
type File struct {
	Info   FileInfo `cbor:"info"`
	Xattrs []Xattr  `cbor:"xattrs"`
	Data   []byte   `cbor:"data"`
}
