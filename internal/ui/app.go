// Package ui is the desktop shell: source selection, run controls, the two
// previews, a progress bar and the log panel.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/andresmejia3/imatest/internal/capture"
	"github.com/andresmejia3/imatest/internal/config"
	"github.com/andresmejia3/imatest/internal/display"
	"github.com/andresmejia3/imatest/internal/log"
	"github.com/andresmejia3/imatest/internal/pipeline"
	"github.com/andresmejia3/imatest/internal/types"
)

const (
	sourceFiles  = "Files"
	sourceWebcam = "Webcam"

	logFlushInterval = 250 * time.Millisecond
	logPanelLines    = 2000
	progressReset    = 500 * time.Millisecond
)

// App is the main window. Widget fields are only touched on the fyne
// thread; pipeline callbacks hop over with fyne.Do.
type App struct {
	ctx    context.Context
	cfg    config.Config
	coord  *pipeline.Coordinator
	logger *slog.Logger

	fyneApp fyne.App
	window  fyne.Window

	source   *widget.RadioGroup
	fileList *widget.List
	openBtn  *widget.Button
	clearBtn *widget.Button

	startBtn   *widget.Button
	suspendBtn *widget.Button
	resumeBtn  *widget.Button
	stopBtn    *widget.Button

	original  *canvas.Image
	processed *canvas.Image
	progress  *widget.ProgressBar

	logEntry  *widget.Entry
	logBox    *fyne.Container
	logToggle *widget.Button
	logs      *logBuffer

	paths []string

	framePending atomic.Bool
	quitting     atomic.Bool
}

// New builds the window. Cancelling ctx closes it after stopping any run.
func New(ctx context.Context, cfg config.Config, stages pipeline.StageFactory, logger *slog.Logger) *App {
	a := &App{
		ctx:    ctx,
		cfg:    cfg,
		logger: logger,
		logs:   newLogBuffer(logPanelLines),
	}
	a.coord = pipeline.New(cfg, pipeline.Options{
		Stages:        stages,
		Sink:          a,
		OnStateChange: a.onStateChange,
		OnStopped:     a.onStopped,
		Logger:        logger,
	})

	a.fyneApp = app.NewWithID("io.github.andresmejia3.imatest")
	a.window = a.fyneApp.NewWindow("imatest")
	a.window.Resize(fyne.NewSize(float32(2*cfg.PreviewWidth+320), float32(cfg.PreviewHeight+360)))

	a.createWidgets()
	a.window.SetContent(a.createLayout())
	a.window.SetCloseIntercept(a.requestQuit)
	a.applyState(pipeline.Idle)
	return a
}

// Run shows the window and blocks until it is closed.
func (a *App) Run() {
	detach := log.Attach(a.logs)
	defer detach()

	exited := make(chan struct{})
	go a.pumpLogs(exited)
	go func() {
		select {
		case <-a.ctx.Done():
			a.requestQuit()
		case <-exited:
		}
	}()

	a.logger.Info("gui started", "decoder", a.cfg.Decoder, "isolation", a.cfg.Isolation)
	a.window.ShowAndRun()
	close(exited)
}

func (a *App) createWidgets() {
	a.source = widget.NewRadioGroup([]string{sourceFiles, sourceWebcam}, func(string) {
		a.applyState(a.coord.State())
	})
	a.source.Horizontal = true
	a.source.Selected = sourceFiles

	a.fileList = widget.NewList(
		func() int { return len(a.paths) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			obj.(*widget.Label).SetText(filepath.Base(a.paths[id]))
		},
	)
	a.openBtn = widget.NewButtonWithIcon("Open Files", theme.FolderOpenIcon(), a.openFiles)
	a.clearBtn = widget.NewButtonWithIcon("Clear", theme.ContentClearIcon(), func() {
		a.paths = nil
		a.fileList.Refresh()
	})

	a.startBtn = widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), a.start)
	a.suspendBtn = widget.NewButtonWithIcon("Suspend", theme.MediaPauseIcon(), func() {
		a.report(a.coord.Suspend())
	})
	a.resumeBtn = widget.NewButtonWithIcon("Resume", theme.MediaPlayIcon(), func() {
		a.report(a.coord.Resume())
	})
	a.stopBtn = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), func() {
		a.report(a.coord.Stop())
	})

	size := fyne.NewSize(float32(a.cfg.PreviewWidth), float32(a.cfg.PreviewHeight))
	a.original = canvas.NewImageFromImage(nil)
	a.original.FillMode = canvas.ImageFillContain
	a.original.SetMinSize(size)
	a.processed = canvas.NewImageFromImage(nil)
	a.processed.FillMode = canvas.ImageFillContain
	a.processed.SetMinSize(size)

	a.progress = widget.NewProgressBar()
	a.progress.Max = 100

	a.logEntry = widget.NewMultiLineEntry()
	a.logEntry.SetMinRowsVisible(8)
	a.logEntry.Wrapping = fyne.TextWrapOff
	a.logEntry.Disable()

	a.logToggle = widget.NewButton("Hide Logs", a.toggleLogs)
}

func (a *App) createLayout() fyne.CanvasObject {
	inputs := container.NewBorder(
		container.NewVBox(widget.NewLabel("Source"), a.source),
		container.NewHBox(a.openBtn, a.clearBtn),
		nil, nil,
		a.fileList,
	)

	controls := container.NewHBox(a.startBtn, a.suspendBtn, a.resumeBtn, a.stopBtn, a.logToggle)

	previews := container.NewGridWithColumns(2,
		widget.NewCard("Original", "", a.original),
		widget.NewCard("Processed", "", a.processed),
	)

	a.logBox = container.NewBorder(nil,
		container.NewHBox(widget.NewButton("Clear Logs", func() {
			a.logs.Reset()
			a.logEntry.SetText("")
		})),
		nil, nil,
		a.logEntry,
	)

	return container.NewBorder(
		controls,
		container.NewVBox(a.progress, a.logBox),
		container.NewGridWrap(fyne.NewSize(280, 0), inputs),
		nil,
		previews,
	)
}

func (a *App) openFiles() {
	fileDialog := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(fmt.Errorf("failed to open file: %w", err), a.window)
			return
		}
		if reader == nil {
			return
		}
		path := reader.URI().Path()
		reader.Close()

		a.paths = append(a.paths, path)
		a.fileList.Refresh()
		a.logger.Info("input added", "path", path, "kind", capture.Classify(path))
	}, a.window)

	fileDialog.SetFilter(storage.NewExtensionFileFilter(capture.Extensions()))
	fileDialog.Show()
}

func (a *App) start() {
	sel := types.Selection{
		Webcam: a.source.Selected == sourceWebcam,
		Camera: a.cfg.Camera,
	}
	if !sel.Webcam {
		sel.Paths = append([]string(nil), a.paths...)
	}

	// Runs end through Stop; ctx only triggers the quit path
	err := a.coord.Start(context.WithoutCancel(a.ctx), sel)
	if errors.Is(err, pipeline.ErrNoInput) {
		dialog.ShowInformation("No input", "Please select at least one file or the webcam.", a.window)
		return
	}
	if err != nil {
		a.report(err)
		return
	}

	if sel.Webcam {
		a.progress.Max = 100
	} else {
		a.progress.Max = float64(display.ProgressMax(sel.Paths))
	}
	a.progress.SetValue(0)
}

func (a *App) report(err error) {
	if err != nil {
		a.logger.Warn("pipeline command rejected", "err", err)
		dialog.ShowError(err, a.window)
	}
}

// FrameReady is called on the transform goroutine. Frames arriving while
// the previous one is still waiting for the GUI thread are skipped.
func (a *App) FrameReady(seq int, original, processed types.Frame) {
	if !a.framePending.CompareAndSwap(false, true) {
		return
	}
	left := display.Preview(original, a.cfg.PreviewWidth, a.cfg.PreviewHeight)
	right := display.Preview(processed, a.cfg.PreviewWidth, a.cfg.PreviewHeight)
	value := float64(display.Progress(seq))

	fyne.Do(func() {
		defer a.framePending.Store(false)
		a.original.Image = left
		a.original.Refresh()
		a.processed.Image = right
		a.processed.Refresh()
		a.progress.SetValue(value)
	})
}

func (a *App) onStateChange(s pipeline.State) {
	fyne.Do(func() { a.applyState(s) })
}

func (a *App) applyState(s pipeline.State) {
	setEnabled(a.startBtn, s == pipeline.Idle)
	setEnabled(a.suspendBtn, s == pipeline.Running)
	setEnabled(a.resumeBtn, s == pipeline.Suspended)
	setEnabled(a.stopBtn, s == pipeline.Running || s == pipeline.Suspended)

	files := s == pipeline.Idle && a.source.Selected != sourceWebcam
	setEnabled(a.openBtn, files)
	setEnabled(a.clearBtn, files)
	if s == pipeline.Idle {
		a.source.Enable()
	} else {
		a.source.Disable()
	}
}

func (a *App) onStopped(rep pipeline.Report) {
	if a.quitting.Load() {
		return
	}
	fyne.Do(func() {
		a.progress.SetValue(a.progress.Max)
		a.original.Image = nil
		a.original.Refresh()
		a.processed.Image = nil
		a.processed.Refresh()

		msg := fmt.Sprintf("%d frames processed.", rep.Frames)
		if rep.Killed {
			msg += "\nThe capture stage had to be terminated."
		}
		dialog.ShowInformation("Test Done", msg, a.window)
	})
	time.AfterFunc(progressReset, func() {
		fyne.Do(func() { a.progress.SetValue(0) })
	})
}

func (a *App) toggleLogs() {
	if a.logBox.Visible() {
		a.logBox.Hide()
		a.logToggle.SetText("Show Logs")
	} else {
		a.logBox.Show()
		a.logToggle.SetText("Hide Logs")
	}
}

func (a *App) pumpLogs(exited <-chan struct{}) {
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-exited:
			return
		case <-ticker.C:
			text, changed := a.logs.Snapshot()
			if !changed {
				continue
			}
			fyne.Do(func() {
				a.logEntry.SetText(text)
				a.logEntry.CursorRow = strings.Count(text, "\n")
				a.logEntry.Refresh()
			})
		}
	}
}

// requestQuit stops any run before the window goes away.
func (a *App) requestQuit() {
	if a.quitting.Swap(true) {
		return
	}
	go func() {
		timeout := a.cfg.CaptureJoinTimeout*2 + a.cfg.TransformJoinTimeout
		if err := a.coord.Shutdown(timeout); err != nil {
			a.logger.Error("pipeline did not shut down cleanly", "err", err)
		}
		fyne.Do(a.fyneApp.Quit)
	}()
}

func setEnabled(w fyne.Disableable, on bool) {
	if on {
		w.Enable()
	} else {
		w.Disable()
	}
}
