package files

import (
	"errors"
	"io/fs"
	"os"
)

// renameCheckThenAct is the portable fallback for renameNoReplace. A racing
// writer can still slip in between the Lstat and the rename.
func renameCheckThenAct(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(oldPath, newPath)
}
