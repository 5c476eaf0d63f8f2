package shell

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// lastLoginFormat renders the banner time the way a UTC date string reads
const lastLoginFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// maxLineLen bounds the input buffer; further bytes on the line are dropped
const maxLineLen = 4096

// Outcome tells the caller whether the session should continue
type Outcome int

const (
	Continue Outcome = iota
	Terminate
)

// Profile is the host identity presented by the shell
type Profile struct {
	Hostname string
	OS       string
	Kernel   string // full `uname -a` line
}

// KernelRelease returns the release field of the uname line (e.g. 5.4.0-42-generic)
func (p Profile) KernelRelease() string {
	fields := strings.Fields(p.Kernel)
	if len(fields) < 3 {
		return p.Kernel
	}
	return fields[2]
}

func cannedCommands(p Profile) map[string]string {
	return map[string]string{
		"ls": "total 8\n" +
			"drwxr-xr-x 2 root root 4096 Jan 1 12:00 .\n" +
			"drwxr-xr-x 3 root root 4096 Jan 1 12:00 ..\n" +
			"-rw-r--r-- 1 root root  220 Jan 1 12:00 .bash_logout\n",
		"pwd":      "/root\n",
		"whoami":   "root\n",
		"id":       "uid=0(root) gid=0(root) groups=0(root)\n",
		"uname -a": p.Kernel + "\n",
		"cat /etc/passwd": "root:x:0:0:root:/root:/bin/bash\n" +
			"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\n",
		"ps aux": "USER       PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND\n" +
			"root         1  0.0  0.1   8892   764 ?        Ss   12:00   0:01 /sbin/init\n",
		"hostname": p.Hostname + "\n",
	}
}

// CommandNotFound is bash's reply to an unknown command
func CommandNotFound(cmd string) string {
	return fmt.Sprintf("bash: %s: command not found\r\n", cmd)
}

// FakeShell answers a fixed table of commands. It never executes anything.
type FakeShell struct {
	mu        sync.Mutex
	out       io.Writer
	ip        string
	profile   Profile
	commands  map[string]string
	echo      bool
	onCommand func(line string)
	nowFn     func() time.Time

	line       []byte
	escape     []byte
	lastCR     bool
	terminated bool
	err        error
}

// New creates a shell writing to out. echo enables terminal echo of typed
// input, which is what clients expect once they have requested a PTY.
func New(out io.Writer, ip string, profile Profile, echo bool) *FakeShell {
	return &FakeShell{
		out:      out,
		ip:       ip,
		profile:  profile,
		commands: cannedCommands(profile),
		echo:     echo,
		nowFn:    time.Now,
	}
}

// OnCommand registers fn to observe every non-empty command line
func (s *FakeShell) OnCommand(fn func(line string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommand = fn
}

// Err returns the first error writing to the output, if any
func (s *FakeShell) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start writes the login banner and the first prompt
func (s *FakeShell) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.write("Last login: " + s.nowFn().UTC().Format(lastLoginFormat) + " from " + s.ip + "\r\n")
	s.write(fmt.Sprintf("Welcome to %s (GNU/Linux %s x86_64)\r\n\r\n", s.profile.OS, s.profile.KernelRelease()))
	s.prompt()
	return s.err
}

// HandleCommand interprets one complete input line
func (s *FakeShell) HandleCommand(line string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleCommand(line)
}

// Feed runs the line discipline over raw channel bytes, dispatching each
// completed line. It returns Terminate once the session should end.
func (s *FakeShell) Feed(data []byte) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range data {
		if s.terminated || s.err != nil {
			return Terminate
		}

		if len(s.escape) > 0 {
			s.absorbEscape(b)
			continue
		}

		crlf := b == '\n' && s.lastCR
		s.lastCR = b == '\r'

		switch {
		case crlf:
			// second half of CRLF
		case b == '\r' || b == '\n':
			if s.echo {
				s.write("\r\n")
			}
			line := string(s.line)
			s.line = s.line[:0]
			if s.handleCommand(line) == Terminate {
				return Terminate
			}
		case b == 0x1b:
			s.escape = append(s.escape[:0], b)
		case b == 0x7f || b == 0x08:
			if len(s.line) > 0 {
				_, size := utf8.DecodeLastRune(s.line)
				s.line = s.line[:len(s.line)-size]
				if s.echo {
					s.write("\b \b")
				}
			}
		case b == 0x03:
			s.line = s.line[:0]
			s.write("^C\r\n")
			s.prompt()
		case b == 0x04:
			if len(s.line) == 0 {
				s.write("logout\r\n")
				s.terminated = true
				return Terminate
			}
		case b >= 0x20:
			if len(s.line) < maxLineLen {
				s.line = append(s.line, b)
				if s.echo {
					s.write(string([]byte{b}))
				}
			}
		}
	}

	if s.terminated || s.err != nil {
		return Terminate
	}
	return Continue
}

func (s *FakeShell) handleCommand(line string) Outcome {
	if s.terminated {
		return Terminate
	}

	cmd := strings.TrimSpace(line)
	if cmd != "" && s.onCommand != nil {
		s.onCommand(cmd)
	}

	if out, ok := s.commands[cmd]; ok {
		s.write(out)
	} else if cmd == "exit" || cmd == "logout" {
		s.write("logout\r\n")
		s.terminated = true
		return Terminate
	} else if cmd != "" {
		s.write(CommandNotFound(cmd))
	}

	s.prompt()
	if s.err != nil {
		return Terminate
	}
	return Continue
}

// absorbEscape swallows CSI (ESC [ ... final) and SS3 (ESC O x) sequences
func (s *FakeShell) absorbEscape(b byte) {
	s.escape = append(s.escape, b)
	if len(s.escape) == 2 {
		if b != '[' && b != 'O' {
			s.escape = s.escape[:0]
		}
		return
	}
	if s.escape[1] == 'O' || (b >= 0x40 && b <= 0x7e) || len(s.escape) > 16 {
		s.escape = s.escape[:0]
	}
}

func (s *FakeShell) prompt() {
	s.write("root@" + s.profile.Hostname + ":~# ")
}

func (s *FakeShell) write(data string) {
	if s.err != nil {
		return
	}
	if _, err := io.WriteString(s.out, data); err != nil {
		s.err = err
	}
}
