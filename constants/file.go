package constants

import "strings"

// OCR result artifacts, in order of preference. The OCR service also writes a
// layout/detection dump next to the text (name ends with det.mmd) which is skipped.
var OCRArtifactExtensions = []string{"mmd", "md", "txt"}

const OCRDetectionSuffix = "det.mmd"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsOCRDetectionDump reports whether name is the detection dump rather than the text.
func IsOCRDetectionDump(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), OCRDetectionSuffix)
}
