package importer

import (
	"PICs_Importer/internal/models"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// 解码器能打开的格式才做筛查（扩展名先经过归一化）
var screenableExtensions = buildExtSet(
	".jpg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp",
)

// ScreenImages 并发地尝试解码照片，返回解码失败的文件及原因。
// 这是纯咨询性质的检查：结果只进审计日志，绝不拦截导入——
// 解码器不认识的格式（HEIC、RAW）不代表文件有问题。
func ScreenImages(files []*models.MediaFile, workerCount int) map[string]string {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	advisories := make(map[string]string)
	var mu sync.Mutex

	tasks := make(chan string, 100)
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range tasks {
				if _, err := imaging.Open(path); err != nil {
					mu.Lock()
					advisories[path] = err.Error()
					mu.Unlock()
				}
			}
		}()
	}

	for _, f := range files {
		if f.Kind != models.KindPhoto {
			continue
		}
		if !screenableExtensions[models.NormalizeExt(f.SourcePath)] {
			continue
		}
		tasks <- f.SourcePath
	}
	close(tasks)
	wg.Wait()

	return advisories
}
