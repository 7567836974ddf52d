package moodle

type siteInfo struct {
	UserID   int    `json:"userid"`
	SiteName string `json:"sitename"`
}

type course struct {
	ID       int    `json:"id"`
	FullName string `json:"fullname"`
}

type section struct {
	Section int      `json:"section"`
	Name    string   `json:"name"`
	Modules []module `json:"modules"`
}

type module struct {
	Name     string    `json:"name"`
	Contents []content `json:"contents"`
}

type content struct {
	FileName     string `json:"filename"`
	FileSize     int64  `json:"filesize"`
	FileURL      string `json:"fileurl"`
	TimeModified int64  `json:"timemodified"`
	MimeType     string `json:"mimetype"`
}

// wsError is the object Moodle answers with when a web service call fails.
type wsError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// remoteFile is what the listing learned about a file.
type remoteFile struct {
	url       string
	size      int64
	changedAt int64
}
