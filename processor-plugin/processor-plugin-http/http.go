package processor_plugin_http

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"nebula/pkg/api"

	"github.com/armon/circbuf"
	"github.com/cloudwego/kitex/pkg/klog"
)

const (
	//单次执行最多保留的响应体字节数
	maxBufSize = 256000

	defaultTimeoutSeconds = 30
)

// HTTP 发起http请求的processor。
// params:
//
//	"url":        请求地址，必填
//	"method":     GET/POST/...，必填
//	"headers":    JSON数组，形如["Content-Type: application/json"]
//	"body":       请求体
//	"timeout":    请求超时秒数，缺省30
//	"expectCode": 期望的响应码，非空时不匹配算失败
//	"expectBody": 期望的响应体，非空时不匹配算失败
//	"debug":      非空时打印请求和响应详情
//	"tlsNoVerifyPeer":       "true"时跳过证书校验
//	"tlsCertificateFile":    客户端证书路径
//	"tlsCertificateKeyFile": 客户端私钥路径
//	"tlsRootCAsFile":        额外信任的根证书路径
type HTTP struct{}

func (h *HTTP) GetJobType() string {
	return "Http"
}

func (h *HTTP) Process(job *api.Job) *api.JobResult {
	out, err := h.executeImpl(job)
	result := &api.JobResult{
		Ok:     err == nil,
		Result: string(out),
	}
	if err != nil {
		result.Err = err.Error()
	}
	return result
}

func (h *HTTP) executeImpl(job *api.Job) ([]byte, error) {
	output, _ := circbuf.NewBuffer(maxBufSize)

	if job.Params["url"] == "" {
		return nil, errors.New("http: url is empty")
	}
	if job.Params["method"] == "" {
		return nil, errors.New("http: method is empty")
	}

	req, err := http.NewRequest(job.Params["method"], job.Params["url"],
		strings.NewReader(job.Params["body"]))
	if err != nil {
		return nil, err
	}

	var headers []string
	if job.Params["headers"] != "" {
		if err := json.Unmarshal([]byte(job.Params["headers"]), &headers); err != nil {
			return nil, fmt.Errorf("http: parse headers error:%w", err)
		}
	}
	for _, h := range headers {
		kv := strings.SplitN(h, ":", 2)
		if len(kv) != 2 {
			continue
		}
		req.Header.Set(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1]))
	}

	debug := job.Params["debug"] != ""
	if debug {
		klog.Infof("http: request:%+v", req)
	}

	client, err := h.createClient(job.Params)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(output, resp.Body); err != nil {
		return nil, err
	}

	if debug {
		klog.Infof("http: response:%v, body:%s", resp.Status, output.Bytes())
	}

	if expect := job.Params["expectCode"]; expect != "" {
		if strconv.Itoa(resp.StatusCode) != expect {
			return output.Bytes(), fmt.Errorf("http: got status code %v, expect %v", resp.StatusCode, expect)
		}
	}
	if expect := job.Params["expectBody"]; expect != "" {
		if expect != string(output.Bytes()) {
			return output.Bytes(), errors.New("http: response body does not match expectBody")
		}
	}

	return output.Bytes(), nil
}

func (h *HTTP) createClient(params map[string]string) (*http.Client, error) {
	timeout := defaultTimeoutSeconds
	if params["timeout"] != "" {
		t, err := strconv.Atoi(params["timeout"])
		if err != nil {
			return nil, fmt.Errorf("http: invalid timeout:%w", err)
		}
		timeout = t
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: params["tlsNoVerifyPeer"] == "true",
	}

	if params["tlsCertificateFile"] != "" {
		cert, err := tls.LoadX509KeyPair(params["tlsCertificateFile"], params["tlsCertificateKeyFile"])
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if params["tlsRootCAsFile"] != "" {
		pem, err := os.ReadFile(params["tlsRootCAsFile"])
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("http: no valid root CA certificate found")
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Client{
		Timeout: time.Duration(timeout) * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}
