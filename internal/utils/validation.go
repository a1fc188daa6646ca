package utils

const MaxNameLength = 64

// IsValidName reports whether name is usable as a container or project name
// and therefore as a path component under the backup root.
func IsValidName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLength || name == "." || name == ".." {
		return false
	}
	first := name[0]
	if !isAlnum(first) {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !isAlnum(c) && c != '-' && c != '_' && c != '.' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
