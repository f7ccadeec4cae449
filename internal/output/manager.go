// Package output renders the live multi-row download display and the final
// run summary. It is a consumer of engine progress, not part of the engine:
// jobs report into it through the Manager and never read from it.
package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type JobOutput struct {
	ID          int
	URL         string
	Status      string
	Message     string
	ProgressBar string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	Index       int
}

type ErrorReport struct {
	URL   string
	Error error
	Time  time.Time
}

type Manager struct {
	rows        map[int]*JobOutput
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
	aggLine     string
}

func NewManager() *Manager {
	return &Manager{
		rows:        make(map[int]*JobOutput),
		errors:      []ErrorReport{},
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) RegisterJob(url string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	m.rows[m.jobCount] = &JobOutput{
		ID:          m.jobCount,
		URL:         url,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.jobCount,
	}
	return m.jobCount
}

func (m *Manager) SetMessage(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if row, exists := m.rows[id]; exists {
		row.Message = message
		row.Status = "active"
		row.LastUpdated = time.Now()
	}
}

// SetProgress updates a row's rendered progress bar with cumulative
// downloaded bytes against the expected total.
func (m *Manager) SetProgress(id int, downloaded, total int64, text string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if row, exists := m.rows[id]; exists {
		row.Status = "active"
		row.ProgressBar = fmt.Sprintf("%s%s", RenderProgressBar(max(0, downloaded), total, 30), debugStyle.Render(text))
		row.LastUpdated = time.Now()
	}
}

// SetAggregate updates the header line summarizing files completed and the
// cumulative human-readable size across all jobs.
func (m *Manager) SetAggregate(done, total int, size string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.aggLine = fmt.Sprintf("Total: %d/%d files (%s)", done, total, size)
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if row, exists := m.rows[id]; exists {
		row.ProgressBar = ""
		if message == "" {
			message = fmt.Sprintf("Completed %s", row.URL)
		}
		row.Message = message
		row.Complete = true
		row.Status = "success"
		row.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if row, exists := m.rows[id]; exists {
		row.ProgressBar = ""
		row.Complete = true
		row.Status = "error"
		row.Error = err
		row.Message = fmt.Sprintf("Failed %s", row.URL)
		row.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			URL:   row.URL,
			Error: err,
			Time:  time.Now(),
		})
	}
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) sortRows() []*JobOutput {
	var all []*JobOutput
	for _, row := range m.rows {
		all = append(all, row)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	return all
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	availableLines := getTerminalHeight() - 3 // Leave some buffer for prompt
	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}

	lineCount := 0
	if m.aggLine != "" {
		fmt.Printf("%s%s\n", strings.Repeat(" ", 2), infoStyle.Render(m.aggLine))
		lineCount++
	}
	for _, row := range m.sortRows() {
		if lineCount >= availableLines {
			break
		}
		elapsed := time.Since(row.StartTime).Round(time.Second)
		if row.Complete {
			elapsed = row.LastUpdated.Sub(row.StartTime).Round(time.Second)
		}
		var styledMessage string
		switch row.Status {
		case "success":
			styledMessage = successStyle.Render(row.Message)
		case "error":
			styledMessage = errorStyle.Render(row.Message)
		default:
			styledMessage = pendingStyle.Render(row.Message)
		}
		if row.Message == "" && row.Status == "pending" {
			styledMessage = pendingStyle.Render("Waiting...")
		}
		fmt.Printf("%s%s %s %s\n", strings.Repeat(" ", 2), m.statusIndicator(row.Status), debugStyle.Render(elapsed.String()), styledMessage)
		lineCount++
		if row.ProgressBar != "" && lineCount < availableLines {
			fmt.Printf("%s%s\n", strings.Repeat(" ", 2+4), row.ProgressBar)
			lineCount++
		}
	}
	m.numLines = lineCount
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(strings.Repeat(" ", 2) + errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Printf("%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("URL: %s", report.URL)))
		fmt.Printf("%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Println()
	var success, failures int
	for _, row := range m.rows {
		if row.Status == "success" {
			success++
		} else if row.Status == "error" {
			failures++
		}
	}
	fmt.Println(strings.Repeat(" ", 2) + success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.rows))))
	if failures > 0 {
		fmt.Println(strings.Repeat(" ", 2) + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.rows))))
	}
	if m.aggLine != "" {
		fmt.Println(strings.Repeat(" ", 2) + infoStyle.Render(m.aggLine))
	}
	m.displayErrors()
	fmt.Println()
}
