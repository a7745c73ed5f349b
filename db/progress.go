package db

// Progress update message
type ProgressUpdate struct {
	Curr    int    `json:"curr"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Progess updater interface
type ProgressUpdater interface {
	UpdateProgress(curr int, total int, message string)
}

// ProgressFunc adapts a plain function to ProgressUpdater.
type ProgressFunc func(curr int, total int, message string)

func (f ProgressFunc) UpdateProgress(curr int, total int, message string) {
	f(curr, total, message)
}
