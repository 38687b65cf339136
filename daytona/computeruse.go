package daytona

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ComputerUse 控制沙箱内的桌面环境（Xvfb、窗口管理器与 VNC）。
type ComputerUse struct {
	sandbox *Sandbox

	Mouse      *Mouse
	Keyboard   *Keyboard
	Screenshot *Screenshot
	Display    *Display
	Recording  *RecordingService
}

func newComputerUse(s *Sandbox) *ComputerUse {
	cu := &ComputerUse{sandbox: s}
	cu.Mouse = &Mouse{cu: cu}
	cu.Keyboard = &Keyboard{cu: cu}
	cu.Screenshot = &Screenshot{cu: cu}
	cu.Display = &Display{cu: cu}
	cu.Recording = &RecordingService{cu: cu}
	return cu
}

func (cu *ComputerUse) call(ctx context.Context, op, method, path string, query url.Values, body, ret interface{}) error {
	if err := cu.sandbox.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, cu.sandbox.toolbox.DoJSON(ctx, method, "/computeruse"+path, query, body, ret))
}

// ComputerUseStatus 桌面环境状态。
type ComputerUseStatus struct {
	Message string `json:"message,omitempty"`
	Status  string `json:"status"`
}

// ProcessStatus 桌面子进程状态。
type ProcessStatus struct {
	ProcessName string `json:"processName"`
	Running     bool   `json:"running"`
}

// Start 启动桌面环境的全部进程。
func (cu *ComputerUse) Start(ctx context.Context) (*ComputerUseStatus, error) {
	var status ComputerUseStatus
	if err := cu.call(ctx, "Failed to start computer use", http.MethodPost, "/start", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stop 停止桌面环境。
func (cu *ComputerUse) Stop(ctx context.Context) (*ComputerUseStatus, error) {
	var status ComputerUseStatus
	if err := cu.call(ctx, "Failed to stop computer use", http.MethodPost, "/stop", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetStatus 返回桌面环境状态。
func (cu *ComputerUse) GetStatus(ctx context.Context) (*ComputerUseStatus, error) {
	var status ComputerUseStatus
	if err := cu.call(ctx, "Failed to get computer use status", http.MethodGet, "/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func processPath(name, action string) string {
	return "/process/" + url.PathEscape(name) + "/" + action
}

// GetProcessStatus 返回某个桌面子进程（xvfb、xfce4、x11vnc、novnc）的状态。
func (cu *ComputerUse) GetProcessStatus(ctx context.Context, name string) (*ProcessStatus, error) {
	var status ProcessStatus
	if err := cu.call(ctx, "Failed to get process status", http.MethodGet, processPath(name, "status"), nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RestartProcess 重启桌面子进程。
func (cu *ComputerUse) RestartProcess(ctx context.Context, name string) error {
	return cu.call(ctx, "Failed to restart process", http.MethodPost, processPath(name, "restart"), nil, nil, nil)
}

// GetProcessLogs 返回桌面子进程的标准输出日志。
func (cu *ComputerUse) GetProcessLogs(ctx context.Context, name string) (string, error) {
	var resp struct {
		Logs string `json:"logs"`
	}
	err := cu.call(ctx, "Failed to get process logs", http.MethodGet, processPath(name, "logs"), nil, nil, &resp)
	return resp.Logs, err
}

// GetProcessErrors 返回桌面子进程的错误输出。
func (cu *ComputerUse) GetProcessErrors(ctx context.Context, name string) (string, error) {
	var resp struct {
		Errors string `json:"errors"`
	}
	err := cu.call(ctx, "Failed to get process errors", http.MethodGet, processPath(name, "errors"), nil, nil, &resp)
	return resp.Errors, err
}

// Point 屏幕坐标。
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// 鼠标按键。
const (
	MouseLeft   = "left"
	MouseRight  = "right"
	MouseMiddle = "middle"
)

// Mouse 鼠标操作。
type Mouse struct {
	cu *ComputerUse
}

// GetPosition 返回光标位置。
func (m *Mouse) GetPosition(ctx context.Context) (*Point, error) {
	var p Point
	if err := m.cu.call(ctx, "Failed to get mouse position", http.MethodGet, "/mouse/position", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Move 移动光标并返回新位置。
func (m *Mouse) Move(ctx context.Context, x, y int) (*Point, error) {
	var p Point
	if err := m.cu.call(ctx, "Failed to move mouse", http.MethodPost, "/mouse/move", nil, Point{X: x, Y: y}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type mouseClick struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button" validate:"oneof=left right middle"`
	Double bool   `json:"double,omitempty"`
}

// Click 在指定位置点击，button 为空时使用左键。
func (m *Mouse) Click(ctx context.Context, x, y int, button string, double bool) (*Point, error) {
	const op = "Failed to click mouse"
	if button == "" {
		button = MouseLeft
	}
	req := mouseClick{X: x, Y: y, Button: button, Double: double}
	if err := defaultValidator.Validate(op, &req); err != nil {
		return nil, err
	}
	var p Point
	if err := m.cu.call(ctx, op, http.MethodPost, "/mouse/click", nil, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Drag 按住按键从起点拖动到终点。
func (m *Mouse) Drag(ctx context.Context, from, to Point, button string) (*Point, error) {
	const op = "Failed to drag mouse"
	if button == "" {
		button = MouseLeft
	}
	check := mouseClick{Button: button}
	if err := defaultValidator.Validate(op, &check); err != nil {
		return nil, err
	}
	req := map[string]interface{}{
		"startX": from.X, "startY": from.Y,
		"endX": to.X, "endY": to.Y,
		"button": button,
	}
	var p Point
	if err := m.cu.call(ctx, op, http.MethodPost, "/mouse/drag", nil, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Scroll 在指定位置滚动，direction 为 up 或 down。
func (m *Mouse) Scroll(ctx context.Context, x, y int, direction string, amount int) error {
	const op = "Failed to scroll mouse"
	if direction != "up" && direction != "down" {
		return validationError(op, "direction must be up or down, got %q", direction)
	}
	if amount <= 0 {
		amount = 1
	}
	req := map[string]interface{}{"x": x, "y": y, "direction": direction, "amount": amount}
	return m.cu.call(ctx, op, http.MethodPost, "/mouse/scroll", nil, req, nil)
}

// Keyboard 键盘操作。
type Keyboard struct {
	cu *ComputerUse
}

// Type 输入文本，delay 是按键间隔，0 使用默认值。
func (k *Keyboard) Type(ctx context.Context, text string, delay time.Duration) error {
	req := map[string]interface{}{"text": text}
	if delay > 0 {
		req["delay"] = delay.Milliseconds()
	}
	return k.cu.call(ctx, "Failed to type text", http.MethodPost, "/keyboard/type", nil, req, nil)
}

// Press 按下按键，可带修饰键（ctrl、alt、shift、cmd）。
func (k *Keyboard) Press(ctx context.Context, key string, modifiers ...string) error {
	const op = "Failed to press key"
	if key == "" {
		return validationError(op, "key is required")
	}
	req := map[string]interface{}{"key": key, "modifiers": append([]string{}, modifiers...)}
	return k.cu.call(ctx, op, http.MethodPost, "/keyboard/key", nil, req, nil)
}

// Hotkey 按下组合键，如 "ctrl+shift+t"。
func (k *Keyboard) Hotkey(ctx context.Context, keys string) error {
	const op = "Failed to press hotkey"
	if keys == "" {
		return validationError(op, "keys are required")
	}
	return k.cu.call(ctx, op, http.MethodPost, "/keyboard/hotkey", nil, map[string]string{"keys": keys}, nil)
}

// ScreenshotRegion 截图区域。
type ScreenshotRegion struct {
	X      int `validate:"gte=0"`
	Y      int `validate:"gte=0"`
	Width  int `validate:"gt=0"`
	Height int `validate:"gt=0"`
}

// ScreenshotOptions 压缩截图选项，零值字段使用服务端默认值。
type ScreenshotOptions struct {
	ShowCursor bool
	Format     string  `validate:"omitempty,oneof=png jpeg webp"`
	Quality    int     `validate:"omitempty,min=1,max=100"`
	Scale      float64 `validate:"omitempty,gt=0,lte=1"`
}

// ScreenshotResponse 截图结果，Image 为 base64 编码的图片。
type ScreenshotResponse struct {
	Image          string `json:"screenshot"`
	CursorPosition *Point `json:"cursorPosition,omitempty"`
	SizeBytes      int    `json:"sizeBytes,omitempty"`
}

// Screenshot 截图操作。
type Screenshot struct {
	cu *ComputerUse
}

func (s *Screenshot) take(ctx context.Context, op, path string, region *ScreenshotRegion, opts *ScreenshotOptions, showCursor bool) (*ScreenshotResponse, error) {
	if region != nil {
		if err := defaultValidator.Validate(op, region); err != nil {
			return nil, err
		}
	}
	if opts != nil {
		if err := defaultValidator.Validate(op, opts); err != nil {
			return nil, err
		}
	}
	query := url.Values{"showCursor": {strconv.FormatBool(showCursor)}}
	if region != nil {
		query.Set("x", strconv.Itoa(region.X))
		query.Set("y", strconv.Itoa(region.Y))
		query.Set("width", strconv.Itoa(region.Width))
		query.Set("height", strconv.Itoa(region.Height))
	}
	if opts != nil {
		if opts.Format != "" {
			query.Set("format", opts.Format)
		}
		if opts.Quality > 0 {
			query.Set("quality", strconv.Itoa(opts.Quality))
		}
		if opts.Scale > 0 {
			query.Set("scale", strconv.FormatFloat(opts.Scale, 'f', -1, 64))
		}
	}
	var resp ScreenshotResponse
	if err := s.cu.call(ctx, op, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TakeFullScreen 截取整个屏幕。
func (s *Screenshot) TakeFullScreen(ctx context.Context, showCursor bool) (*ScreenshotResponse, error) {
	return s.take(ctx, "Failed to take screenshot", "/screenshot", nil, nil, showCursor)
}

// TakeRegion 截取屏幕区域。
func (s *Screenshot) TakeRegion(ctx context.Context, region ScreenshotRegion, showCursor bool) (*ScreenshotResponse, error) {
	return s.take(ctx, "Failed to take region screenshot", "/screenshot/region", &region, nil, showCursor)
}

// TakeCompressed 截取整个屏幕并压缩。
func (s *Screenshot) TakeCompressed(ctx context.Context, opts ScreenshotOptions) (*ScreenshotResponse, error) {
	return s.take(ctx, "Failed to take compressed screenshot", "/screenshot/compressed", nil, &opts, opts.ShowCursor)
}

// TakeCompressedRegion 截取屏幕区域并压缩。
func (s *Screenshot) TakeCompressedRegion(ctx context.Context, region ScreenshotRegion, opts ScreenshotOptions) (*ScreenshotResponse, error) {
	return s.take(ctx, "Failed to take compressed region screenshot", "/screenshot/region/compressed", &region, &opts, opts.ShowCursor)
}

// DisplayInfo 一个显示器。
type DisplayInfo struct {
	ID       int  `json:"id"`
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	IsActive bool `json:"isActive"`
}

// Window 一个窗口。
type Window struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	IsActive bool   `json:"isActive"`
}

// Display 显示器与窗口信息。
type Display struct {
	cu *ComputerUse
}

// GetInfo 返回显示器列表。
func (d *Display) GetInfo(ctx context.Context) ([]DisplayInfo, error) {
	var resp struct {
		Displays []DisplayInfo `json:"displays"`
	}
	err := d.cu.call(ctx, "Failed to get display info", http.MethodGet, "/display/info", nil, nil, &resp)
	return resp.Displays, err
}

// GetWindows 返回打开的窗口。
func (d *Display) GetWindows(ctx context.Context) ([]Window, error) {
	var resp struct {
		Windows []Window `json:"windows"`
	}
	err := d.cu.call(ctx, "Failed to get windows", http.MethodGet, "/display/windows", nil, nil, &resp)
	return resp.Windows, err
}

// Recording 一段屏幕录制。
type Recording struct {
	ID              string     `json:"id"`
	FileName        string     `json:"fileName"`
	FilePath        string     `json:"filePath"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Status          string     `json:"status"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`
	SizeBytes       *int64     `json:"sizeBytes,omitempty"`
}

// RecordingService 管理屏幕录制。
type RecordingService struct {
	cu *ComputerUse
}

func recordingPath(id string, elems ...string) string {
	p := "/recordings/" + url.PathEscape(id)
	for _, e := range elems {
		p += "/" + e
	}
	return p
}

// Start 开始录制，label 可为空。
func (r *RecordingService) Start(ctx context.Context, label string) (*Recording, error) {
	body := map[string]string{}
	if label != "" {
		body["label"] = label
	}
	var rec Recording
	if err := r.cu.call(ctx, "Failed to start recording", http.MethodPost, "/recordings/start", nil, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stop 停止录制。
func (r *RecordingService) Stop(ctx context.Context, id string) (*Recording, error) {
	var rec Recording
	if err := r.cu.call(ctx, "Failed to stop recording", http.MethodPost, "/recordings/stop", nil, map[string]string{"id": id}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List 列出全部录制。
func (r *RecordingService) List(ctx context.Context) ([]Recording, error) {
	var resp struct {
		Recordings []Recording `json:"recordings"`
	}
	err := r.cu.call(ctx, "Failed to list recordings", http.MethodGet, "/recordings", nil, nil, &resp)
	return resp.Recordings, err
}

// Get 返回录制详情。
func (r *RecordingService) Get(ctx context.Context, id string) (*Recording, error) {
	var rec Recording
	if err := r.cu.call(ctx, "Failed to get recording", http.MethodGet, recordingPath(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete 删除录制。
func (r *RecordingService) Delete(ctx context.Context, id string) error {
	return r.cu.call(ctx, "Failed to delete recording", http.MethodDelete, recordingPath(id), nil, nil, nil)
}

// Download 把录制文件流式写入 localPath。数据先写入同目录的临时文件，完成后再重命名，
// 失败时不会留下不完整的文件。
func (r *RecordingService) Download(ctx context.Context, id, localPath string) error {
	const op = "Failed to download recording"
	if localPath == "" {
		return validationError(op, "local path is required")
	}
	if err := r.cu.sandbox.checkOpen(op); err != nil {
		return err
	}
	body, _, err := r.cu.sandbox.toolbox.Stream(ctx, http.MethodGet, "/computeruse"+recordingPath(id, "download"), nil, nil)
	if err != nil {
		return wrapError(op, err)
	}
	defer body.Close()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrapError(op, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return wrapError(op, err)
	}
	tmpName := tmp.Name()
	_, err = io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, localPath)
	}
	if err != nil {
		os.Remove(tmpName)
		return wrapError(op, err)
	}
	return nil
}
