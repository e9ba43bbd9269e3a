package urlfilter

// ignoredExtensions lists file types the spider never spends fetch budget on:
// binaries, documents, media, archives, fonts, and source files that cannot
// yield crawlable HTML.
var ignoredExtensions = map[string]struct{}{
	// documents
	"pdf": {}, "doc": {}, "docx": {}, "odt": {}, "rtf": {}, "tex": {},
	"xls": {}, "xlsx": {}, "ods": {}, "csv": {}, "tsv": {},
	"ppt": {}, "pptx": {}, "odp": {}, "pps": {}, "key": {},
	"epub": {}, "mobi": {}, "djvu": {}, "ps": {},

	// images
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "tif": {},
	"tiff": {}, "webp": {}, "ico": {}, "svg": {}, "heic": {}, "heif": {},
	"avif": {}, "psd": {}, "ai": {}, "eps": {}, "raw": {}, "cr2": {},

	// audio
	"mp3": {}, "wav": {}, "ogg": {}, "oga": {}, "flac": {}, "aac": {},
	"m4a": {}, "wma": {}, "mid": {}, "midi": {}, "aiff": {}, "opus": {},

	// video
	"mp4": {}, "m4v": {}, "mkv": {}, "mov": {}, "avi": {}, "wmv": {},
	"flv": {}, "webm": {}, "mpg": {}, "mpeg": {}, "3gp": {}, "ogv": {},

	// archives
	"zip": {}, "tar": {}, "gz": {}, "tgz": {}, "bz2": {}, "xz": {},
	"7z": {}, "rar": {}, "iso": {}, "dmg": {}, "cab": {}, "lz": {},

	// executables and packages
	"exe": {}, "msi": {}, "bin": {}, "apk": {}, "ipa": {}, "deb": {},
	"rpm": {}, "jar": {}, "war": {}, "dll": {}, "so": {}, "dylib": {},

	// fonts
	"ttf": {}, "otf": {}, "woff": {}, "woff2": {}, "eot": {},

	// styles, scripts, source
	"css": {}, "js": {}, "mjs": {}, "map": {}, "json": {}, "xml": {},
	"yaml": {}, "yml": {}, "toml": {}, "ini": {}, "c": {}, "cpp": {},
	"h": {}, "java": {}, "py": {}, "rb": {}, "swift": {}, "cs": {},

	// data and misc
	"sql": {}, "db": {}, "sqlite": {}, "bak": {}, "log": {}, "dat": {},
	"ics": {}, "torrent": {}, "swf": {}, "crx": {}, "xpi": {},
}

// IgnoredExtension reports whether ext (without dot, any case) is excluded.
func IgnoredExtension(ext string) bool {
	_, ok := ignoredExtensions[ext]
	return ok
}
