package processor_plugin_shell

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"nebula/pkg/api"

	"github.com/armon/circbuf"
	"github.com/cloudwego/kitex/pkg/klog"
	shellwords "github.com/mattn/go-shellwords"
)

const (
	windows = "windows"

	//单次执行最多保留的输出量，防止失控的命令把内存吃光
	maxBufSize = 256000
)

// Shell 执行shell命令的processor。
// params:
//
//	"command": 要执行的命令
//	"shell":   "true"时经/bin/sh -c执行，否则shellwords切词直接exec
//	"env":     逗号分隔的额外环境变量
//	"cwd":     工作目录
//	"payload": base64，写进命令的stdin
//
// SHARDING任务的分片范围通过NEBULA_SPLIT_START/END/TOTAL环境变量传给命令
type Shell struct{}

func (s *Shell) GetJobType() string {
	return "Shell"
}

func (s *Shell) Process(job *api.Job) *api.JobResult {
	out, err := s.executeImpl(job)
	result := &api.JobResult{
		Ok:     err == nil,
		Result: string(out),
	}
	if err != nil {
		result.Err = err.Error()
	}
	return result
}

func (s *Shell) executeImpl(job *api.Job) ([]byte, error) {
	output, _ := circbuf.NewBuffer(maxBufSize)

	command := job.Params["command"]
	if command == "" {
		return nil, errors.New("shell: command is empty")
	}

	useShell, err := strconv.ParseBool(job.Params["shell"])
	if err != nil {
		useShell = false
	}

	env := splitEnv(job.Params["env"])
	if job.Split != nil {
		env = append(env,
			fmt.Sprintf("NEBULA_SPLIT_START=%d", job.Split.Start),
			fmt.Sprintf("NEBULA_SPLIT_END=%d", job.Split.End),
			fmt.Sprintf("NEBULA_SPLIT_TOTAL=%d", job.Split.Total),
		)
	}

	cmd, err := buildCmd(command, useShell, env, job.Params["cwd"])
	if err != nil {
		return nil, err
	}
	cmd.Stdout = output
	cmd.Stderr = output

	if payload := job.Params["payload"]; payload != "" {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, err
		}
		cmd.Stdin = strings.NewReader(string(decoded))
	}

	klog.Infof("shell: going to run %s", command)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	//超时自己把进程杀干净，不依赖Worker侧的收尾
	var timedOut bool
	if job.TimeoutMs > 0 {
		timer := time.AfterFunc(time.Duration(job.TimeoutMs)*time.Millisecond, func() {
			timedOut = true
			if killErr := cmd.Process.Kill(); killErr != nil {
				klog.Errorf("shell: kill command %q on timeout error:%v", command, killErr)
			}
		})
		defer timer.Stop()
	}

	err = cmd.Wait()

	if output.TotalWritten() > output.Size() {
		klog.Warnf("shell: command %q generated %d bytes of output, truncated to %d",
			command, output.TotalWritten(), output.Size())
	}

	if timedOut {
		return output.Bytes(), fmt.Errorf("shell: command %q killed after timeout %dms", command, job.TimeoutMs)
	}
	return output.Bytes(), err
}

func splitEnv(envStr string) []string {
	if envStr == "" {
		return nil
	}
	return strings.Split(envStr, ",")
}

func buildCmd(command string, useShell bool, env []string, cwd string) (*exec.Cmd, error) {
	var cmd *exec.Cmd

	if useShell {
		shell, flag := "/bin/sh", "-c"
		if runtime.GOOS == windows {
			shell, flag = "cmd", "/C"
		}
		cmd = exec.Command(shell, flag, command)
	} else {
		args, err := shellwords.Parse(command)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, errors.New("shell: command missing")
		}
		cmd = exec.Command(args[0], args[1:]...)
	}

	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Dir = cwd
	return cmd, nil
}
