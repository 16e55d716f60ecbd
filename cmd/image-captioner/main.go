// Command image-captioner captions images with a trained CNN feature
// extractor and word decoder, or with a remote vision model.
//
// Usage:
//
//	image-captioner serve                        # HTTP upload service on :5000
//	image-captioner caption dog.jpg              # caption one image
//	image-captioner caption photos/ --out out/   # caption a directory
//	image-captioner config init                  # write a default config file
package main

func main() {
	Execute()
}
