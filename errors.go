package afs

import "fmt"

// Result is the set of expected, caller-surfaced failure codes an AFS
// operation can return (spec.md §6/§7.1). Operations either succeed and
// commit, or fail with a Result and commit nothing.
type Result int

const (
	// OK is never returned as an error; operations return a nil error on success.
	OK Result = iota
	OutOfSpace
	BlockIndexInvalid
	StorageInErrorState
	UnexpectedBlockKind
	UnsupportedFsVersion
	InvalidObjId
	DirNotFound
	ObjNotFound
	ObjNotDir
	ObjNotFile
	NameTooLong
	MetaDataTooLong
	MetaDataCannotChangeLen
	NameInvalid
	NameNotInDir
	NameExists
	InvalidPathSyntax
	MoveDestInvalid
	DirNotEmpty
	FileNotEmpty
	InvalidOffset
)

var resultText = map[Result]string{
	OK:                      "ok",
	OutOfSpace:              "out of space",
	BlockIndexInvalid:       "block index invalid",
	StorageInErrorState:     "storage in error state",
	UnexpectedBlockKind:     "unexpected block kind",
	UnsupportedFsVersion:    "unsupported filesystem version",
	InvalidObjId:            "invalid object id",
	DirNotFound:             "directory not found",
	ObjNotFound:             "object not found",
	ObjNotDir:               "object is not a directory",
	ObjNotFile:              "object is not a file",
	NameTooLong:             "name too long",
	MetaDataTooLong:         "metadata too long",
	MetaDataCannotChangeLen: "metadata cannot change length",
	NameInvalid:             "name invalid",
	NameNotInDir:            "name not in directory",
	NameExists:              "name already exists",
	InvalidPathSyntax:       "invalid path syntax",
	MoveDestInvalid:         "move destination invalid",
	DirNotEmpty:             "directory not empty",
	FileNotEmpty:            "file not empty",
	InvalidOffset:           "invalid offset",
}

// Error implements the error interface so a Result can be returned
// and compared directly with errors.Is against the package-level
// sentinels above.
func (r Result) Error() string {
	if s, ok := resultText[r]; ok {
		return s
	}
	return fmt.Sprintf("afs: unknown result %d", int(r))
}

// CorruptionError is carried by a panic raised for an invariant
// violation (spec.md §7.2): a structural assertion inside the core
// failed, which means storage corruption or an implementation bug, not
// a recoverable condition. The core does not attempt to continue after
// one of these; callers that want to turn it back into an error (e.g.
// in tests) should recover and re-wrap it themselves.
type CorruptionError struct {
	Context string
	Detail  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("afs: corruption detected in %s: %s", e.Context, e.Detail)
}

func corrupt(context, format string, args ...interface{}) {
	panic(&CorruptionError{Context: context, Detail: fmt.Sprintf(format, args...)})
}
