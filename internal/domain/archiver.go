package domain

// Archiver packages a downloaded export directory into a single zip.
type Archiver interface {
	// ZipDirectory compresses the directory at src into src+".zip" and
	// removes src on success, returning the zip path.
	ZipDirectory(src string) (string, error)
}
