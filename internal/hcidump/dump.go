package hcidump

import (
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
	"github.com/taoyao-code/hcidump-monitor/internal/metrics"
	"github.com/taoyao-code/hcidump-monitor/internal/process"
)

const defaultBinary = "hcidump"

// Partial 因提前出现下一个包而被放弃的半包
type Partial struct {
	Direction Direction
	Raw       []byte // 已解码部分（含标记与类型字节）
	Missing   int    // 尚缺字节数
}

// Dump hcidump 原始输出的重组与分发引擎
//
// 文本缓冲与半包状态只由 Feed 修改；处理器/监听器注册表允许并发读写。
// 监听器在 Feed 所在 goroutine 中同步调用，不能在监听器内再调用 Feed。
type Dump struct {
	adapter    hci.Adapter
	logger     *zap.Logger
	metrics    *metrics.AppMetrics
	binary     string
	extraArgs  []string
	newProcess ProcessFactory
	onDesync   func(Partial)
	warnLimit  *rate.Limiter

	mu           sync.RWMutex
	cmdHandlers  map[hci.Opcode]CommandHandler
	evtHandlers  map[uint8]EventHandler
	cmdListeners map[hci.Opcode]map[int]CommandListener
	evtListeners map[uint8]map[int]EventListener
	nextID       int

	autostart      bool
	autoStopping   bool // 因无监听器而停止，退出前又有订阅时重新启动
	proc           Process
	exitNotify     map[int]func(process.ExitStatus)
	stderrNotify   map[int]func(string)
	lastExitStatus *process.ExitStatus

	feedMu    sync.Mutex
	text      []byte
	off       int
	pending   []byte
	remaining int
}

// Option 构造选项
type Option func(*Dump)

func WithLogger(l *zap.Logger) Option { return func(d *Dump) { d.logger = l } }

func WithMetrics(m *metrics.AppMetrics) Option { return func(d *Dump) { d.metrics = m } }

// WithAutostart 控制首个订阅自动启动、最后一个退订自动停止（默认开启）
func WithAutostart(on bool) Option { return func(d *Dump) { d.autostart = on } }

// WithBinary hcidump 可执行文件路径
func WithBinary(path string) Option {
	return func(d *Dump) {
		if path != "" {
			d.binary = path
		}
	}
}

// WithExtraArgs 追加到 "-R -i <hci>" 之后的参数
func WithExtraArgs(args ...string) Option { return func(d *Dump) { d.extraArgs = args } }

func WithProcessFactory(f ProcessFactory) Option { return func(d *Dump) { d.newProcess = f } }

// WithDesyncHandler 被放弃的半包交给 fn，而非静默丢弃
func WithDesyncHandler(fn func(Partial)) Option { return func(d *Dump) { d.onDesync = fn } }

// New 创建引擎（不启动进程）
func New(adapter hci.Adapter, opts ...Option) *Dump {
	d := &Dump{
		adapter:      adapter,
		logger:       zap.NewNop(),
		binary:       defaultBinary,
		warnLimit:    rate.NewLimiter(rate.Every(time.Second), 5),
		cmdHandlers:  make(map[hci.Opcode]CommandHandler),
		evtHandlers:  make(map[uint8]EventHandler),
		cmdListeners: make(map[hci.Opcode]map[int]CommandListener),
		evtListeners: make(map[uint8]map[int]EventListener),
		autostart:    true,
		exitNotify:   make(map[int]func(process.ExitStatus)),
		stderrNotify: make(map[int]func(string)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.newProcess == nil {
		d.newProcess = defaultProcessFactory(d.logger)
	}
	d.logger = d.logger.With(zap.String("component", "hcidump"), zap.String("hci", adapter.HCI))
	return d
}

// Adapter 所监听的控制器
func (d *Dump) Adapter() hci.Adapter { return d.adapter }

// Error 状态码 -> 错误描述
func (d *Dump) Error(code string) *hci.Error { return hci.NewError(code) }

// AddCommandHandler 安装命令处理器；同一操作码已有处理器时忽略
func (d *Dump) AddCommandHandler(h CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addCommandHandlerLocked(h)
}

func (d *Dump) addCommandHandlerLocked(h CommandHandler) {
	op := h.Opcode()
	if _, ok := d.cmdHandlers[op]; ok {
		return
	}
	d.cmdHandlers[op] = h
}

// CommandHandler 查询已安装的命令处理器
func (d *Dump) CommandHandler(op hci.Opcode) (CommandHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.cmdHandlers[op]
	return h, ok
}

// AddEventHandler 安装事件处理器；同一事件码已有处理器时忽略
func (d *Dump) AddEventHandler(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addEventHandlerLocked(h)
}

func (d *Dump) addEventHandlerLocked(h EventHandler) {
	code := h.Code()
	if _, ok := d.evtHandlers[code]; ok {
		return
	}
	d.evtHandlers[code] = h
}

// EventHandler 查询已安装的事件处理器
func (d *Dump) EventHandler(code uint8) (EventHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.evtHandlers[code]
	return h, ok
}

// OnCommand 订阅命令；h 为 nil 时订阅全部（通配）
// 同时安装 h（若该操作码尚无处理器），返回订阅 ID
func (d *Dump) OnCommand(l CommandListener, h CommandHandler) int {
	if h == nil {
		h = UnknownCommandHandler{}
	}
	op := h.Opcode()

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.cmdListeners[op] == nil {
		d.cmdListeners[op] = make(map[int]CommandListener)
	}
	d.cmdListeners[op][id] = l
	d.addCommandHandlerLocked(h)
	d.mu.Unlock()

	d.autoStart()
	return id
}

// OnEvent 订阅事件；h 为 nil 时订阅全部（通配）
// 若 h 实现 EventFilter，保存的是过滤包装后的监听器
func (d *Dump) OnEvent(l EventListener, h EventHandler) int {
	if h == nil {
		h = UnknownEventHandler{}
	}
	code := h.Code()
	l = filterListener(h, l)

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.evtListeners[code] == nil {
		d.evtListeners[code] = make(map[int]EventListener)
	}
	d.evtListeners[code][id] = l
	d.addEventHandlerLocked(h)
	d.mu.Unlock()

	d.autoStart()
	return id
}

// RemoveCommandListener 取消命令订阅；处理器保留
func (d *Dump) RemoveCommandListener(id int) {
	d.mu.Lock()
	removeListener(d.cmdListeners, id)
	d.mu.Unlock()
	d.autoStop()
}

// RemoveEventListener 取消事件订阅；处理器保留
func (d *Dump) RemoveEventListener(id int) {
	d.mu.Lock()
	removeListener(d.evtListeners, id)
	d.mu.Unlock()
	d.autoStop()
}

// Unsubscribe 按 ID 取消任一方向的订阅
func (d *Dump) Unsubscribe(id int) {
	d.mu.Lock()
	removeListener(d.cmdListeners, id)
	removeListener(d.evtListeners, id)
	d.mu.Unlock()
	d.autoStop()
}

// Subscriptions 当前命令/事件订阅数
func (d *Dump) Subscriptions() (commands, events int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.cmdListeners {
		commands += len(m)
	}
	for _, m := range d.evtListeners {
		events += len(m)
	}
	return commands, events
}

func (d *Dump) hasListenersLocked() bool {
	return len(d.cmdListeners) > 0 || len(d.evtListeners) > 0
}

func removeListener[K comparable, L any](buckets map[K]map[int]L, id int) {
	for key, m := range buckets {
		delete(m, id)
		if len(m) == 0 {
			delete(buckets, key)
		}
	}
}

// collectListeners 合并具体标识与通配标识的监听器，按订阅 ID 升序
func collectListeners[K comparable, L any](buckets map[K]map[int]L, key, wildcard K) []L {
	ids := make([]int, 0, len(buckets[key])+len(buckets[wildcard]))
	merged := make(map[int]L, cap(ids))
	for _, k := range []K{key, wildcard} {
		for id, l := range buckets[k] {
			if _, dup := merged[id]; dup {
				continue
			}
			merged[id] = l
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]L, len(ids))
	for i, id := range ids {
		out[i] = merged[id]
	}
	return out
}

// ParseReturn 用 op 已安装的处理器解析返回参数
// 处理器未安装、未实现 ReturnParser 或拒绝时返回 false；不使用通配处理器
func (d *Dump) ParseReturn(op hci.Opcode, ret []byte) (Command, bool) {
	h, ok := d.CommandHandler(op)
	if !ok {
		return nil, false
	}
	rp, ok := h.(ReturnParser)
	if !ok {
		return nil, false
	}
	cmd := rp.ParseReturn(ret, d)
	return cmd, cmd != nil
}

// ParseResult 解析 hci.Client 同步命令的结果；失败的命令不解析
func (d *Dump) ParseResult(res hci.CommandResult) (Command, bool) {
	if !res.OK {
		return nil, false
	}
	opHex, ok := hci.HexOgfOcfToOpcode(res.OGF, res.OCF)
	if !ok {
		return nil, false
	}
	op, ok := hci.ParseOpcodeHex(opHex)
	if !ok {
		return nil, false
	}
	ret, err := hex.DecodeString(res.Ret)
	if err != nil {
		return nil, false
	}
	return d.ParseReturn(op, ret)
}
