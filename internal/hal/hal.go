package hal

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/kapitanov/chip8core/internal/driver"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/veandco/go-sdl2/sdl"
)

const (
	DefaultScale = 16

	toneFrequency  = 440
	sampleRate     = 22050
	toneAmplitude  = 32
	toneBufferSecs = 5 // longer than the 255-tick sound timer at 60 Hz
)

var _ driver.HAL = (*HAL)(nil)

type HAL struct {
	window          *sdl.Window
	renderer        *sdl.Renderer
	texture         *sdl.Texture
	backBuffer      []uint32
	backBufferPitch int

	audio    sdl.AudioDeviceID
	toneWave []byte
	hasAudio bool
	toneIsOn bool
}

func New(scale int) (*HAL, error) {
	if scale <= 0 {
		scale = DefaultScale
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_AUDIO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("failed to init sdl: %w", err)
	}

	windowWidth := int32(vm.ScreenWidth * scale)
	windowHeight := int32(vm.ScreenHeight * scale)

	window, err := sdl.CreateWindow("CHIP-8", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, windowWidth, windowHeight, sdl.WINDOW_SHOWN)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl window: %w", err)
	}
	slog.Debug("hal: create window", "width", windowWidth, "height", windowHeight)
	window.Show()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl renderer: %w", err)
	}
	err = renderer.SetLogicalSize(windowWidth, windowHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to resize sdl renderer: %w", err)
	}
	slog.Debug("hal: create renderer")

	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, vm.ScreenWidth, vm.ScreenHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl texture: %w", err)
	}
	slog.Debug("hal: create texture")

	h := &HAL{
		window:          window,
		renderer:        renderer,
		texture:         texture,
		backBuffer:      make([]uint32, vm.ScreenWidth*vm.ScreenHeight),
		backBufferPitch: int(vm.ScreenWidth) * int(unsafe.Sizeof(uint32(0))),
		toneWave:        squareWave(toneFrequency, sampleRate, toneBufferSecs*sampleRate),
	}

	// A machine without a sound card still runs, just silently.
	want := &sdl.AudioSpec{
		Freq:     sampleRate,
		Format:   sdl.AUDIO_S8,
		Channels: 1,
		Samples:  512,
	}
	audio, err := sdl.OpenAudioDevice("", false, want, nil, 0)
	if err != nil {
		slog.Warn("hal: audio unavailable", "err", err)
	} else {
		h.audio = audio
		h.hasAudio = true
		slog.Debug("hal: open audio device", "id", audio)
	}

	return h, nil
}

func (hal *HAL) Shutdown() {
	if hal.hasAudio {
		sdl.CloseAudioDevice(hal.audio)
	}

	if err := hal.texture.Destroy(); err != nil {
		slog.Error("failed to destroy sdl texture", "err", err)
	}

	if err := hal.renderer.Destroy(); err != nil {
		slog.Error("failed to destroy sdl renderer", "err", err)
	}

	if err := hal.window.Destroy(); err != nil {
		slog.Error("failed to destroy sdl window", "err", err)
	}

	sdl.Quit()
}

// ReadInput drains pending SDL events. Backspace requests a reboot; Escape
// or closing the window requests exit.
func (hal *HAL) ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error {
	for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
		switch e := e.(type) {
		case *sdl.QuitEvent:
			slog.Debug("hal: exit requested")
			return driver.ErrQuit

		case *sdl.KeyboardEvent:
			code := e.Keysym.Scancode
			if e.Type == sdl.KEYDOWN {
				switch code {
				case sdl.SCANCODE_BACKSPACE:
					return driver.ErrReboot
				case sdl.SCANCODE_ESCAPE:
					slog.Debug("hal: exit requested")
					return driver.ErrQuit
				}
			}

			key, ok := keyMap(code)
			if !ok {
				continue
			}
			if e.Type == sdl.KEYDOWN {
				keyDown(key)
			} else {
				keyUp(key)
			}
		}
	}

	return nil
}

// keypad maps the left block of a QWERTY keyboard onto the hex keypad:
//
//	1 2 3 4      1 2 3 C
//	q w e r  ->  4 5 6 D
//	a s d f      7 8 9 E
//	z x c v      A 0 B F
var keypad = map[sdl.Scancode]vm.Key{
	sdl.SCANCODE_1: vm.Key1, sdl.SCANCODE_2: vm.Key2, sdl.SCANCODE_3: vm.Key3, sdl.SCANCODE_4: vm.KeyC,
	sdl.SCANCODE_Q: vm.Key4, sdl.SCANCODE_W: vm.Key5, sdl.SCANCODE_E: vm.Key6, sdl.SCANCODE_R: vm.KeyD,
	sdl.SCANCODE_A: vm.Key7, sdl.SCANCODE_S: vm.Key8, sdl.SCANCODE_D: vm.Key9, sdl.SCANCODE_F: vm.KeyE,
	sdl.SCANCODE_Z: vm.KeyA, sdl.SCANCODE_X: vm.Key0, sdl.SCANCODE_C: vm.KeyB, sdl.SCANCODE_V: vm.KeyF,
}

func keyMap(code sdl.Scancode) (vm.Key, bool) {
	key, ok := keypad[code]
	return key, ok
}

func (hal *HAL) Draw(screen [vm.ScreenHeight]uint64) error {
	const (
		bgColor = uint32(0x000000)
		fgColor = uint32(0xbea700)
	)

	fillBackBuffer(hal.backBuffer, screen, fgColor, bgColor)

	backBufferPtr := unsafe.Pointer(&hal.backBuffer[0])
	if err := hal.texture.Update(nil, backBufferPtr, hal.backBufferPitch); err != nil {
		return fmt.Errorf("failed to update sdl texture: %w", err)
	}

	if err := hal.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear sdl renderer: %w", err)
	}

	if err := hal.renderer.Copy(hal.texture, nil, nil); err != nil {
		return fmt.Errorf("failed to copy sdl texture to renderer: %w", err)
	}

	hal.renderer.Present()
	return nil
}

func (hal *HAL) Tone(on bool) error {
	if !hal.hasAudio || on == hal.toneIsOn {
		return nil
	}
	hal.toneIsOn = on

	if !on {
		sdl.PauseAudioDevice(hal.audio, true)
		sdl.ClearQueuedAudio(hal.audio)
		return nil
	}

	if err := sdl.QueueAudio(hal.audio, hal.toneWave); err != nil {
		return fmt.Errorf("failed to queue tone: %w", err)
	}
	sdl.PauseAudioDevice(hal.audio, false)
	return nil
}

func fillBackBuffer(dst []uint32, screen [vm.ScreenHeight]uint64, fg, bg uint32) {
	for y := 0; y < vm.ScreenHeight; y++ {
		row := screen[y]

		for x := 0; x < vm.ScreenWidth; x++ {
			i := x + y*vm.ScreenWidth

			color := bg
			if row&(1<<(63-uint(x))) != 0 {
				color = fg
			}

			dst[i] = color
		}
	}
}

// squareWave returns n signed 8-bit samples of a square wave.
func squareWave(freq, rate, n int) []byte {
	period := rate / freq
	wave := make([]byte, n)
	for i := range wave {
		var s int8 = toneAmplitude
		if i%period >= period/2 {
			s = -toneAmplitude
		}
		wave[i] = byte(s)
	}
	return wave
}
