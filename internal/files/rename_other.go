//go:build !linux

package files

func renameNoReplace(oldPath, newPath string) error {
	return renameCheckThenAct(oldPath, newPath)
}
