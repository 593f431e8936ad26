package hasher

import (
	"PICs_Importer/internal/models"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	// 匿名导入 (blank import) image解码器
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/ajdnik/imghash"
)

// CalculateSHA256FromBytes 从字节切片计算 SHA-256 哈希
func CalculateSHA256FromBytes(data []byte) string {
	hashBytes := sha256.Sum256(data)
	return hex.EncodeToString(hashBytes[:])
}

// CalculateSHA256 计算并返回一个文件的SHA-256哈希值。
// 始终对整个文件做哈希：任何按大小截断的捷径都会在校验环节造成
// 数据丢失风险，这里明确不提供这种选项。
func CalculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()

	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}

	hashBytes := h.Sum(nil)
	return hex.EncodeToString(hashBytes), nil
}

// Compare 判断两个文件的内容同一性，返回三态结论。
//   - 大小不同 => NotDuplicate（最常见的快速路径，不读文件内容）
//   - 大小相同、全文件哈希相同 => ExactDuplicate
//   - 大小相同、哈希不同 => AmbiguousSameSizeDifferentContent
//
// 本函数无副作用，可在互不相关的文件对上并发调用。
func Compare(pathA, pathB string) (models.DuplicateVerdict, error) {
	infoA, err := os.Stat(pathA)
	if err != nil {
		return models.NotDuplicate, fmt.Errorf("无法读取文件信息 %s: %w", pathA, err)
	}
	infoB, err := os.Stat(pathB)
	if err != nil {
		return models.NotDuplicate, fmt.Errorf("无法读取文件信息 %s: %w", pathB, err)
	}

	if infoA.Size() != infoB.Size() {
		return models.NotDuplicate, nil
	}

	hashA, err := CalculateSHA256(pathA)
	if err != nil {
		return models.NotDuplicate, fmt.Errorf("计算哈希失败 %s: %w", pathA, err)
	}
	hashB, err := CalculateSHA256(pathB)
	if err != nil {
		return models.NotDuplicate, fmt.Errorf("计算哈希失败 %s: %w", pathB, err)
	}

	if hashA == hashB {
		return models.ExactDuplicate, nil
	}
	return models.AmbiguousSameSizeDifferentContent, nil
}

// CalculatePerceptualHash 计算并返回一个图片的感知哈希(pHash)值。
// 仅用于同大小不同内容时的诊断日志，不参与任何重复判定。
func CalculatePerceptualHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return "", err
	}

	phasher := imghash.NewPHash()
	pHash := phasher.Calculate(img)

	return fmt.Sprintf("%d", pHash), nil
}

// CalculatePerceptualHashFromImage 从已解码的 image.Image 对象计算感知哈希
func CalculatePerceptualHashFromImage(img image.Image) string {
	phasher := imghash.NewPHash()
	pHash := phasher.Calculate(img)
	return fmt.Sprintf("%d", pHash)
}
