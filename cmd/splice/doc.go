// Command splice stores editing timelines and renders them to MP4.
//
//	splice timeline import promo-42 promo.json
//	splice export promo-42 -o promo.mp4
//	splice frame promo-42 --at 12.5 -o still.png
//	splice thumbs clip.mp4 --count 12 -o strip.png
package main
