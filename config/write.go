package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteDefault는 기본값으로 채워진 설정 파일을 path에 생성합니다.
// 이미 파일이 존재하면 덮어쓰지 않고 에러를 반환합니다.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("설정 파일이 이미 존재합니다: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("설정 디렉토리 생성 실패: %w", err)
	}

	cfg := Default()

	// YAML 직렬화
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("YAML 직렬화 실패: %w", err)
	}

	// 헤더 주석 추가
	header := "# Channel Bridge 설정 파일\n"
	header += "# relay.base_url을 게이트웨이 릴레이 주소로 설정하고,\n"
	header += "# relay.api_key_env가 가리키는 환경변수에 API 키를 넣으세요.\n\n"

	content := header + string(yamlData)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("설정 파일 저장 실패: %w", err)
	}

	return nil
}
